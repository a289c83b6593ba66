package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cf ray on 403", 403, http.Header{"Cf-Ray": {"8a1b"}}, "", BlockCloudflare},
		{"cf server on 503", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"cf header on 200 ignored", 200, http.Header{"Cf-Ray": {"8a1b"}}, strings.Repeat("menu ", 500), BlockNone},
		{"browser check page", 200, nil, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha", 200, nil, "<div>Please complete the reCAPTCHA to see our rooms</div>", BlockCaptcha},
		{"datadome", 403, nil, "<script src='https://ct.datadome.co/c.js'></script>", BlockBotWall},
		{"akamai denial", 403, nil, "<h1>Access Denied</h1> Reference #18.2f", BlockBotWall},
		{"noscript shell", 200, nil, "<html><noscript>Enable JavaScript to book a table</noscript></html>", BlockJSShell},
		{"meta refresh", 200, nil, `<meta http-equiv="refresh" content="0;url=/home">`, BlockJSShell},
		{"large page with noscript", 200, nil, "<noscript>javascript</noscript>" + strings.Repeat("x", shellMaxBody), BlockNone},
		{"clean page", 200, nil, "<html><body>Trattoria Roma, open daily from noon.</body></html>", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			got := DetectBlock(&http.Response{StatusCode: tt.status, Header: h}, []byte(tt.body))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	assert.Equal(t, BlockNone, DetectBlock(nil, []byte("captcha")))
}
