package scrape

import (
	"bytes"
	"net/http"
)

// BlockType names the anti-bot wall a venue site put in front of its content.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockBotWall    BlockType = "bot_wall"
	BlockJSShell    BlockType = "js_shell"
)

// shellMaxBody bounds the size of a page treated as an empty JS shell.
const shellMaxBody = 2000

type blockMarker struct {
	kind    BlockType
	needles [][]byte
}

// Checked in order; the first marker with every needle present wins.
var bodyMarkers = []blockMarker{
	{BlockCloudflare, [][]byte{[]byte("checking your browser")}},
	{BlockCloudflare, [][]byte{[]byte("cf-browser-verification")}},
	{BlockCloudflare, [][]byte{[]byte("cloudflare"), []byte("challenge")}},
	{BlockCaptcha, [][]byte{[]byte("captcha")}},
	{BlockBotWall, [][]byte{[]byte("datadome")}},
	{BlockBotWall, [][]byte{[]byte("px-captcha")}},
	{BlockBotWall, [][]byte{[]byte("access denied"), []byte("reference #")}},
}

// DetectBlock reports which wall, if any, the response came from.
// BlockNone means the page looks like real content.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		h := resp.Header
		if h.Get("cf-ray") != "" || h.Get("cf-cache-status") != "" || h.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	if bt := matchMarkers(lower); bt != BlockNone {
		return bt
	}

	if len(body) < shellMaxBody {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return BlockJSShell
		}
		if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
			return BlockJSShell
		}
	}
	return BlockNone
}

// matchMarkers classifies an already lower-cased body against bodyMarkers.
func matchMarkers(lower []byte) BlockType {
	for _, m := range bodyMarkers {
		if containsAll(lower, m.needles) {
			return m.kind
		}
	}
	return BlockNone
}

func containsAll(b []byte, needles [][]byte) bool {
	for _, n := range needles {
		if !bytes.Contains(b, n) {
			return false
		}
	}
	return true
}
