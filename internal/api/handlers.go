package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

const maxBodyBytes = 8 << 20

// BulkRequest is the JSON body of POST /extractions/bulk.
type BulkRequest struct {
	Items []guard.Request `json:"items"`
}

// BulkQueued is returned when a bulk run was started in the background.
type BulkQueued struct {
	Items   int `json:"items"`
	Invalid int `json:"invalid"`
}

// FieldPatch is the admin-editable subset of entity fields. Omitted fields
// are left alone.
type FieldPatch struct {
	Name         *string  `json:"name,omitempty"`
	Address      *string  `json:"address,omitempty"`
	Locality     *string  `json:"locality,omitempty"`
	Phone        *string  `json:"phone,omitempty"`
	Website      *string  `json:"website,omitempty"`
	PriceLevel   *string  `json:"price_level,omitempty"`
	OpeningHours []string `json:"opening_hours,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Summary      *string  `json:"summary,omitempty"`
	Highlights   []string `json:"highlights,omitempty"`
	CategoryIDs  []string `json:"category_ids,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}

func (p FieldPatch) update() *model.PartialUpdate {
	return &model.PartialUpdate{
		Name:         p.Name,
		Address:      p.Address,
		Locality:     p.Locality,
		Phone:        p.Phone,
		Website:      p.Website,
		PriceLevel:   p.PriceLevel,
		OpeningHours: p.OpeningHours,
		Description:  p.Description,
		Summary:      p.Summary,
		Highlights:   p.Highlights,
		CategoryIDs:  p.CategoryIDs,
		Amenities:    p.Amenities,
		Score:        p.Score,
	}
}

// StartExtraction handles POST /extractions.
func (s *Server) StartExtraction(w http.ResponseWriter, r *http.Request) {
	var req guard.Request
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	acc, err := s.ext.StartExtraction(r.Context(), req)
	if HandleError(w, err) {
		return
	}
	JSON(w, http.StatusAccepted, DataResponse{Data: acc})
}

// StartBulk handles POST /extractions/bulk. The body is either JSON
// ({"items": [...]}) or a CSV upload. With ?wait=true the response carries
// the full summary; otherwise the run continues in the background.
func (s *Server) StartBulk(w http.ResponseWriter, r *http.Request) {
	if s.bulk == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "bulk driver not configured")
		return
	}

	items, err := s.readBulk(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if len(items) == 0 {
		BadRequest(w, "no items")
		return
	}
	if len(items) > s.maxBulk {
		BadRequest(w, "too many items: max "+strconv.Itoa(s.maxBulk))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		Success(w, s.bulk.Run(r.Context(), items))
		return
	}

	invalid := 0
	for _, it := range items {
		if it.Err != nil {
			invalid++
		}
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		sum := s.bulk.Run(s.base, items)
		zap.L().Info("api: background bulk finished",
			zap.Int("accepted", sum.Accepted),
			zap.Int("conflicts", sum.Conflicts),
			zap.Int("errors", sum.Errors),
		)
	}()
	JSON(w, http.StatusAccepted, DataResponse{Data: BulkQueued{Items: len(items), Invalid: invalid}})
}

func (s *Server) readBulk(r *http.Request) ([]bulk.Item, error) {
	body := io.LimitReader(r.Body, maxBodyBytes)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "text/csv" {
		return bulk.ReadCSV(r.Context(), body)
	}
	var req BulkRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, err
	}
	items := bulk.Requests(req.Items)
	for i := range items {
		items[i].Err = items[i].Request.Validate()
	}
	return items, nil
}

// GetEntity handles GET /entities/{id}.
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if HandleError(w, err) {
		return
	}
	setETag(w, e.Version)
	Success(w, e)
}

// ListEntities handles GET /entities. external_place_id looks up a single
// record; otherwise entity_type, status, active, limit and offset filter.
func (s *Server) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if pid := q.Get("external_place_id"); pid != "" {
		e, err := s.store.FindByExternalID(r.Context(), pid)
		if store.IsNotFound(err) {
			JSON(w, http.StatusOK, ListResponse{Data: []model.Entity{}, Limit: 1})
			return
		}
		if HandleError(w, err) {
			return
		}
		JSON(w, http.StatusOK, ListResponse{Data: []model.Entity{*e}, Count: 1, Limit: 1})
		return
	}

	filter := store.EntityFilter{Limit: 50}
	if v := q.Get("entity_type"); v != "" {
		t, err := model.ParseEntityType(v)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		filter.Type = t
	}
	if v := q.Get("status"); v != "" {
		filter.Status = model.OverallStatus(v)
	}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid active")
			return
		}
		filter.Active = &b
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50, 500); err != nil {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0, -1); err != nil {
		BadRequest(w, "invalid offset")
		return
	}

	list, err := s.store.ListEntities(r.Context(), filter)
	if HandleError(w, err) {
		return
	}
	if list == nil {
		list = []model.Entity{}
	}
	JSON(w, http.StatusOK, ListResponse{Data: list, Count: len(list), Limit: filter.Limit, Offset: filter.Offset})
}

// PatchEntity handles PATCH /entities/{id}. If-Match must carry the version
// the edit was based on.
func (s *Server) PatchEntity(w http.ResponseWriter, r *http.Request) {
	match := r.Header.Get("If-Match")
	if match == "" {
		Error(w, http.StatusPreconditionRequired, ErrCodePreconditionNeeded, "If-Match header with entity version is required")
		return
	}
	version, err := parseETag(match)
	if err != nil {
		BadRequest(w, "invalid If-Match version")
		return
	}

	var patch FieldPatch
	if err := decode(r, &patch); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	update := patch.update()
	if update.IsEmpty() {
		BadRequest(w, "no fields to update")
		return
	}

	e, err := s.store.UpdateFields(r.Context(), chi.URLParam(r, "id"), version, update)
	if HandleError(w, err) {
		return
	}
	zap.L().Info("api: entity edited",
		zap.String("entity_id", e.ID),
		zap.Strings("fields", update.Keys()),
		zap.Int64("version", e.Version),
	)
	setETag(w, e.Version)
	Success(w, e)
}

// CancelExtraction handles POST /entities/{id}/cancel.
func (s *Server) CancelExtraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.store.GetEntity(r.Context(), id)
	if HandleError(w, err) {
		return
	}
	ok, err := s.ext.Cancel(r.Context(), id)
	if HandleError(w, err) {
		return
	}
	if !ok {
		Error(w, http.StatusConflict, ErrCodeConflict, "no running extraction for entity (status "+string(e.Status)+")")
		return
	}
	JSON(w, http.StatusAccepted, DataResponse{Data: map[string]any{"entity_id": id, "cancelled": true}})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Store    string            `json:"store"`
	Circuits map[string]string `json:"circuits,omitempty"`
}

// Health handles GET /health. A failing store is 503; open circuits only
// degrade the status.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.breakers != nil {
		resp.Circuits = s.breakers.Snapshot()
		if code == http.StatusOK && len(s.breakers.Open()) > 0 {
			resp.Status = "degraded"
		}
	}
	JSON(w, code, resp)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func intParam(s string, def, maxVal int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	if maxVal > 0 && n > maxVal {
		n = maxVal
	}
	return n, nil
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

// parseETag accepts 7, "7" and W/"7".
func parseETag(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	return strconv.ParseInt(s, 10, 64)
}
