package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/catalogsync/internal/api/actorctx"
	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/fusion"
	"github.com/ETAnderson/catalogsync/internal/ingest"
	"github.com/ETAnderson/catalogsync/internal/matching"
	"github.com/ETAnderson/catalogsync/internal/outbox"
	"github.com/ETAnderson/catalogsync/internal/readiness"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/state"
)

type testEnv struct {
	store    *state.MemoryStore
	fusion   *fusion.Service
	gate     *readiness.Gate
	emitter  *outbox.Emitter
	importer *ingest.Importer
	hk       *outbox.Housekeeper
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	store := state.NewMemoryStore()
	catalog := rules.Default()
	fu := fusion.NewService(store, nil)
	gate := readiness.NewGate(store, nil)
	em := outbox.NewEmitter(store, gate, "main", nil)

	return testEnv{
		store:    store,
		fusion:   fu,
		gate:     gate,
		emitter:  em,
		importer: ingest.NewImporter(store, catalog, matching.NewEngine(store, catalog, nil), fu, gate, em, nil),
		hk:       outbox.NewHousekeeper(store, nil),
	}
}

const mattressRecord = `{"supplier_sku":"A-1","name":"Comfort 160x200","manufacturer":"Acme","category_path":["Матрасы"],"attributes":{"ean":"4006381333931"},"price":"100","stock":3}`

func (e testEnv) importOne(t *testing.T) ingest.ImportOutput {
	t.Helper()

	body := `{"supplier_id":5,"records":[` + mattressRecord + `]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	ImportHandler{Importer: e.importer}.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ingest.ImportOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Records, 1)
	return out
}

func productRequest(method string, id int64, suffix string, body string) *http.Request {
	path := "/v1/products/" + strconv.FormatInt(id, 10) + suffix
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.SetPathValue("id", strconv.FormatInt(id, 10))
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestImportHandler_JSONEnvelope(t *testing.T) {
	env := newTestEnv(t)

	out := env.importOne(t)

	assert.Equal(t, domain.SessionHasChanges, out.Session.Status)
	assert.Equal(t, int64(5), out.Session.SupplierID)
	assert.Equal(t, domain.RecordCreatedProduct, out.Records[0].Disposition)
	assert.True(t, out.Records[0].Emitted)
}

func TestImportHandler_GzipNDJSON(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(mattressRecord + "\n\n" + `{"supplier_sku":"B-1","name":"Cloud pillow","category_path":["Подушки"]}` + "\n"))
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/imports?supplier_id=9", &buf)
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()

	ImportHandler{Importer: env.importer}.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ingest.ImportOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(9), out.Session.SupplierID)
	assert.Len(t, out.Records, 2)
	assert.Equal(t, 2, out.Session.Received)
}

func TestImportHandler_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	h := ImportHandler{Importer: env.importer, MaxBytes: 64}

	cases := []struct {
		name     string
		body     string
		encoding string
		query    string
		want     int
		code     string
	}{
		{name: "missing supplier", body: `{"records":[]}`, want: http.StatusBadRequest, code: "invalid_supplier"},
		{name: "bad supplier query", body: `{"records":[]}`, query: "?supplier_id=x", want: http.StatusBadRequest, code: "invalid_supplier"},
		{name: "bad encoding", body: `{}`, encoding: "br", want: http.StatusBadRequest, code: "invalid_encoding"},
		{name: "bad json", body: `{"supplier_id":`, want: http.StatusBadRequest, code: "invalid_body"},
		{name: "too large", body: `{"supplier_id":1,"records":[` + mattressRecord + `]}`, want: http.StatusRequestEntityTooLarge, code: "body_too_large"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/imports"+tc.query, strings.NewReader(tc.body))
			if tc.encoding != "" {
				req.Header.Set("Content-Encoding", tc.encoding)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decode(t, rec)["error"])
		})
	}
}

func TestImportDetailHandler_ReturnsMatchLog(t *testing.T) {
	env := newTestEnv(t)
	out := env.importOne(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/"+out.Session.SessionID, nil)
	req.SetPathValue("session", out.Session.SessionID)
	rec := httptest.NewRecorder()
	ImportDetailHandler{Store: env.store}.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["match_log"], 1)

	req = httptest.NewRequest(http.MethodGet, "/v1/imports/imp_missing", nil)
	req.SetPathValue("session", "imp_missing")
	rec = httptest.NewRecorder()
	ImportDetailHandler{Store: env.store}.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	ImportListHandler{Store: env.store}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/imports?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)
}

func TestFusedProductHandler(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID

	rec := httptest.NewRecorder()
	FusedProductHandler{Store: env.store, Fusion: env.fusion}.ServeHTTP(rec, productRequest(http.MethodGet, productID, "/fused", ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["contributions"], 1)
	assert.Len(t, body["variants"], 1)
	product := body["product"].(map[string]any)
	assert.Equal(t, "mattress", product["family"])

	rec = httptest.NewRecorder()
	FusedProductHandler{Store: env.store, Fusion: env.fusion}.ServeHTTP(rec, productRequest(http.MethodGet, 999, "/fused", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/products/abc/fused", nil)
	req.SetPathValue("id", "abc")
	rec = httptest.NewRecorder()
	FusedProductHandler{Store: env.store, Fusion: env.fusion}.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContributionHandler_ManualOverrideEmitsUpdate(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID

	h := ContributionHandler{Store: env.store, Fusion: env.fusion, Gate: env.gate, Publisher: env.emitter}

	req := productRequest(http.MethodPost, productID, "/contributions", `{"attributes":{"name":"Comfort Deluxe"}}`)
	req = req.WithContext(actorctx.WithActor(req.Context(), "editor@example.com"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["emitted"])
	contribution := body["contribution"].(map[string]any)
	assert.Equal(t, "manual", contribution["source_type"])
	assert.Equal(t, "editor@example.com", contribution["source_id"])
	assert.Equal(t, "editor@example.com", contribution["author"])

	fused, err := env.fusion.Merge(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, "Comfort Deluxe", fused["name"])

	events, err := env.store.ListOutboxEvents(context.Background(), state.OutboxFilter{ProductID: productID})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventUpdated, events[0].EventType)
}

func TestContributionHandler_Validation(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID

	h := ContributionHandler{Store: env.store, Fusion: env.fusion, Gate: env.gate, Publisher: env.emitter}

	cases := map[string]string{
		"invalid_source_type": `{"source_type":"supplier","source_id":"supplier:5","attributes":{"a":1}}`,
		"invalid_source_id":   `{"source_type":"enrichment","attributes":{"a":1}}`,
		"invalid_attributes":  `{"attributes":{}}`,
		"invalid_confidence":  `{"attributes":{"a":1},"confidence":1.5}`,
		"invalid_json":        `{"attributes":{"a":1},"extra":true}`,
	}
	for code, body := range cases {
		t.Run(code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, productRequest(http.MethodPost, productID, "/contributions", body))

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, code, decode(t, rec)["error"])
		})
	}
}

func TestRequirementAndReadinessHandlers(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID

	rec := httptest.NewRecorder()
	RequirementHandler{Gate: env.gate}.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/requirements",
		strings.NewReader(`{"channel":"main","min_images":1,"require_price":true}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", decode(t, rec)["family"])

	h := ReadinessHandler{Store: env.store, Gate: env.gate, Publisher: env.emitter}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, productRequest(http.MethodGet, productID, "/readiness", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.ReadinessResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Ready)
	assert.Equal(t, "main", res.Channel)
	assert.Equal(t, []string{"required:image"}, res.Missing)

	req := productRequest(http.MethodGet, productID, "/readiness", "")
	req.URL.RawQuery = "refresh=maybe"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	RequirementHandler{Gate: env.gate}.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/requirements",
		strings.NewReader(`{"family":"mattress"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnpublishHandler(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID

	rec := httptest.NewRecorder()
	UnpublishHandler{Store: env.store, Publisher: env.emitter}.ServeHTTP(rec, productRequest(http.MethodPost, productID, "/unpublish", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["emitted"])

	p, ok, err := env.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, p.Active)

	events, err := env.store.ListOutboxEvents(context.Background(), state.OutboxFilter{ProductID: productID})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventDeleted, events[0].EventType)
}

func TestOutboxHandlers(t *testing.T) {
	env := newTestEnv(t)
	productID := env.importOne(t).Records[0].ProductID
	ctx := context.Background()

	list := OutboxListHandler{Publisher: env.emitter}

	rec := httptest.NewRecorder()
	list.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outbox?status=pending&product_id="+strconv.FormatInt(productID, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["items"], 1)

	rec = httptest.NewRecorder()
	list.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outbox?status=weird", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	claimed, err := env.store.ClaimOutboxEvents(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, env.store.MarkOutboxError(ctx, []int64{claimed[0].ID}, "rejected"))

	requeue := OutboxRequeueHandler{Housekeeper: env.hk, MaxRetries: 5}

	rec = httptest.NewRecorder()
	requeue.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outbox/requeue", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["requeued"])

	rec = httptest.NewRecorder()
	requeue.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outbox/requeue", strings.NewReader(`{"max_retries":-1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler_WithoutDB(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}
