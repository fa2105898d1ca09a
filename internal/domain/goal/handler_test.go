package goal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var errTest = errors.New("disk full")

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected %d, got %v", code, err)
	}
}

func TestHandler_CreateMilestone(t *testing.T) {
	h, f, e := newTestHandler()

	body := `{"patient_id":"` + f.patient.String() + `","level":"outcome","title":"Walk unaided"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/milestones", body), rec)

	if err := h.CreateMilestone(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var m Milestone
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.ID == uuid.Nil || m.Status != StatusPending {
		t.Errorf("unexpected milestone: %+v", m)
	}
}

func TestHandler_CreateMilestone_BadRequest(t *testing.T) {
	h, f, e := newTestHandler()

	body := `{"patient_id":"` + f.patient.String() + `","level":"phase","title":"No parent"}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/milestones", body), httptest.NewRecorder())
	expectHTTPError(t, h.CreateMilestone(c), http.StatusBadRequest)
}

func TestHandler_GetMilestone(t *testing.T) {
	h, f, e := newTestHandler()
	o, _, _ := f.scenario()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	if err := h.GetMilestone(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPError(t, h.GetMilestone(c), http.StatusNotFound)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPError(t, h.GetMilestone(c), http.StatusBadRequest)
}

func TestHandler_ListMilestones(t *testing.T) {
	h, f, e := newTestHandler()
	f.scenario()

	path := "/api/v1/patients/" + f.patient.String() + "/milestones"
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path+"?limit=2", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.ListMilestones(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data    []Milestone `json:"data"`
		Total   int         `json:"total"`
		HasMore bool        `json:"has_more"`
		Next    string      `json:"next"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 5 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
	if !strings.HasPrefix(resp.Next, path) {
		t.Errorf("expected next link under %s, got %q", path, resp.Next)
	}
}

func TestHandler_GetTree(t *testing.T) {
	h, f, e := newTestHandler()
	f.scenario()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.GetTree(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tree []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &tree)
	if len(tree) != 1 {
		t.Fatalf("expected 1 root, got %d", len(tree))
	}
	if children, _ := tree[0]["children"].([]interface{}); len(children) != 2 {
		t.Errorf("expected 2 phases, got %v", tree[0]["children"])
	}
}

func TestHandler_CascadeFlow(t *testing.T) {
	h, f, e := newTestHandler()
	o, _, t2 := f.scenario()

	// Idle patient has no pending cascade.
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.GetPendingCascade(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"completed"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(t2.ID.String())
	if err := h.UpdateLeafStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var status statusResponse
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status.CascadeOffered == nil || status.CascadeOffered.ID != o.ID {
		t.Fatalf("expected cascade offered for %s, got %+v", o.ID, status.CascadeOffered)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.GetPendingCascade(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var pending Confirmation
	json.Unmarshal(rec.Body.Bytes(), &pending)
	if pending.OutcomeID != o.ID || pending.State != SlotPending {
		t.Errorf("unexpected pending confirmation: %+v", pending)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("outcome_id")
	c.SetParamValues(o.ID.String())
	if err := h.ConfirmCascade(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var confirmed ConfirmResult
	json.Unmarshal(rec.Body.Bytes(), &confirmed)
	if !confirmed.AllGoalsAchieved || confirmed.Outcome.Status != StatusCompleted {
		t.Errorf("unexpected confirm result: %+v", confirmed)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.AcknowledgeCompletion(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ConfirmWithoutOffer(t *testing.T) {
	h, f, e := newTestHandler()
	o, _, _ := f.scenario()

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("outcome_id")
	c.SetParamValues(o.ID.String())
	expectHTTPError(t, h.ConfirmCascade(c), http.StatusConflict)

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("outcome_id")
	c.SetParamValues(o.ID.String())
	expectHTTPError(t, h.DeclineCascade(c), http.StatusConflict)
}

func TestHandler_DeclineCascade(t *testing.T) {
	h, f, e := newTestHandler()
	o, _, t2 := f.scenario()
	if _, _, err := f.svc.UpdateLeafStatus(context.Background(), t2.ID, StatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("outcome_id")
	c.SetParamValues(o.ID.String())
	if err := h.DeclineCascade(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_UpdateLeafStatus_Errors(t *testing.T) {
	h, f, e := newTestHandler()
	_, p2, t2 := f.scenario()

	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"on-hold"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(t2.ID.String())
	expectHTTPError(t, h.UpdateLeafStatus(c), http.StatusBadRequest)

	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"completed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p2.ID.String())
	expectHTTPError(t, h.UpdateLeafStatus(c), http.StatusBadRequest)

	f.repo.failUpdate[t2.ID] = errTest
	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"completed"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(t2.ID.String())
	expectHTTPError(t, h.UpdateLeafStatus(c), http.StatusBadGateway)
}
