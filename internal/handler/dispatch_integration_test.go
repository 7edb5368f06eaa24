package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/chaos"
	"github.com/kursadbilgin/relay-guard/internal/dispatch"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/health"
	"github.com/kursadbilgin/relay-guard/internal/repository"
	"github.com/kursadbilgin/relay-guard/internal/slo"
	"github.com/kursadbilgin/relay-guard/internal/transport"
)

type stubDispatchService struct {
	dispatchFn func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error)
}

func (s *stubDispatchService) Dispatch(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
	return s.dispatchFn(ctx, req)
}

type stubDeliveryRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.Delivery, error)
}

func (s *stubDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error { return nil }

func (s *stubDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	if s.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubDeliveryRepo) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, patch repository.DeliveryPatch) error {
	return nil
}

func newDispatchTestApp(t *testing.T, svc DispatchService, deliveries repository.DeliveryRepository) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterDispatchRoutes(app, svc, deliveries); err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	_ = resp.Body.Close()
	return resp, payload
}

func TestDispatchIntegration_Dispatch(t *testing.T) {
	t.Parallel()

	var seen domain.SendRequest
	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
			seen = req
			return &dispatch.Result{
				DeliveryID:        "d-1",
				Status:            domain.DeliverySent,
				Provider:          "sendgrid",
				ProviderMessageID: "msg-1",
				Attempts:          1,
			}, nil
		},
	}
	app := newDispatchTestApp(t, svc, &stubDeliveryRepo{})

	body := `{"tenantId":"t1","channel":"email","recipient":"user@example.com","payload":{"name":"Ada"},"correlationId":"corr-9"}`
	resp, payload := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(payload))
	}

	var result map[string]any
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if result["deliveryId"] != "d-1" || result["status"] != "sent" {
		t.Fatalf("result = %v", result)
	}
	if seen.CorrelationID != "corr-9" || seen.Channel != domain.ChannelEmail {
		t.Fatalf("request passed to service = %+v", seen)
	}
}

func TestDispatchIntegration_InvalidChannel(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
			t.Fatal("service must not be called for an invalid channel")
			return nil, nil
		},
	}
	app := newDispatchTestApp(t, svc, &stubDeliveryRepo{})

	body := `{"tenantId":"t1","channel":"fax","recipient":"user@example.com"}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDispatchIntegration_NoProviderConfig(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
			return nil, domain.ErrNoProviderConfig
		},
	}
	app := newDispatchTestApp(t, svc, &stubDeliveryRepo{})

	body := `{"tenantId":"t1","channel":"email","recipient":"user@example.com"}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestDispatchIntegration_CorrelationIDFallsBackToHeader(t *testing.T) {
	t.Parallel()

	var seen domain.SendRequest
	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
			seen = req
			return &dispatch.Result{DeliveryID: "d-1", Status: domain.DeliverySent}, nil
		},
	}
	app := newDispatchTestApp(t, svc, &stubDeliveryRepo{})

	body := `{"tenantId":"t1","channel":"email","recipient":"user@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "hdr-7")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if seen.CorrelationID != "hdr-7" {
		t.Fatalf("CorrelationID = %q, want hdr-7", seen.CorrelationID)
	}
}

func TestDispatchIntegration_GetDelivery(t *testing.T) {
	t.Parallel()

	deliveries := &stubDeliveryRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			if id != "d-42" {
				return nil, domain.ErrNotFound
			}
			return &domain.Delivery{
				ID:       "d-42",
				TenantID: "t1",
				Provider: "sendgrid",
				Channel:  domain.ChannelEmail,
				Status:   domain.DeliveryDLQ,
			}, nil
		},
	}
	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error) {
			return nil, nil
		},
	}
	app := newDispatchTestApp(t, svc, deliveries)

	resp, payload := performRequest(t, app, http.MethodGet, "/v1/deliveries/d-42", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["id"] != "d-42" || got["status"] != "dlq" {
		t.Fatalf("delivery = %v", got)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/deliveries/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

type stubCircuits struct {
	openedTenant, openedProvider string
	resetTenant, resetProvider   string
}

func (s *stubCircuits) ForceOpen(ctx context.Context, tenantID, provider string) error {
	s.openedTenant, s.openedProvider = tenantID, provider
	return nil
}

func (s *stubCircuits) ForceReset(ctx context.Context, tenantID, provider string) error {
	s.resetTenant, s.resetProvider = tenantID, provider
	return nil
}

type stubReporter struct{}

func (stubReporter) ExportReport(ctx context.Context, tenantID string) (*slo.Report, error) {
	return &slo.Report{TenantID: tenantID, Compliant: true}, nil
}

type stubPlatform struct{}

func (stubPlatform) CheckAll(ctx context.Context) *health.PlatformReport {
	return &health.PlatformReport{Status: domain.HealthOK}
}

type stubChaos struct {
	enabled *chaos.Config
	err     error
}

func (s *stubChaos) Enable(cfg chaos.Config) error {
	if s.err != nil {
		return s.err
	}
	s.enabled = &cfg
	return nil
}

func (s *stubChaos) Disable()             { s.enabled = nil }
func (s *stubChaos) Status() *chaos.Config { return s.enabled }
func (s *stubChaos) IsAllowed() bool       { return s.err == nil }

type stubFlusher struct {
	called bool
}

func (s *stubFlusher) FlushAll(ctx context.Context) error {
	s.called = true
	return nil
}

func newOpsTestApp(t *testing.T, circuits *stubCircuits, chaosCtl *stubChaos, flusher *stubFlusher) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterOpsRoutes(app, circuits, stubReporter{}, stubPlatform{}, chaosCtl, flusher); err != nil {
		t.Fatalf("RegisterOpsRoutes() error = %v", err)
	}
	return app
}

func TestOpsIntegration_CircuitOverrides(t *testing.T) {
	t.Parallel()

	circuits := &stubCircuits{}
	app := newOpsTestApp(t, circuits, &stubChaos{}, &stubFlusher{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/circuit/t1/sendgrid/open", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("open status = %d, want 200", resp.StatusCode)
	}
	if circuits.openedTenant != "t1" || circuits.openedProvider != "sendgrid" {
		t.Fatalf("ForceOpen got %s/%s", circuits.openedTenant, circuits.openedProvider)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/circuit/t1/sendgrid/reset", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}
	if circuits.resetTenant != "t1" || circuits.resetProvider != "sendgrid" {
		t.Fatalf("ForceReset got %s/%s", circuits.resetTenant, circuits.resetProvider)
	}
}

func TestOpsIntegration_ChaosLifecycle(t *testing.T) {
	t.Parallel()

	chaosCtl := &stubChaos{}
	app := newOpsTestApp(t, &stubCircuits{}, chaosCtl, &stubFlusher{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/chaos/enable", `{"scenario":"provider_down"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("enable status = %d, want 200", resp.StatusCode)
	}
	if chaosCtl.enabled == nil || chaosCtl.enabled.Scenario != chaos.ScenarioProviderDown {
		t.Fatalf("enabled config = %+v", chaosCtl.enabled)
	}

	resp, payload := performRequest(t, app, http.MethodGet, "/v1/chaos/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status map[string]any
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if status["enabled"] != true {
		t.Fatalf("status = %v, want enabled", status)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/chaos/disable", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("disable status = %d, want 200", resp.StatusCode)
	}
	if chaosCtl.enabled != nil {
		t.Fatal("expected drill cleared after disable")
	}
}

func TestOpsIntegration_ChaosForbiddenInProduction(t *testing.T) {
	t.Parallel()

	chaosCtl := &stubChaos{err: domain.ErrChaosForbidden}
	app := newOpsTestApp(t, &stubCircuits{}, chaosCtl, &stubFlusher{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/chaos/enable", `{"scenario":"provider_down"}`)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestOpsIntegration_SLOReportRequiresTenant(t *testing.T) {
	t.Parallel()

	app := newOpsTestApp(t, &stubCircuits{}, &stubChaos{}, &stubFlusher{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/slo/report", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without tenantId", resp.StatusCode)
	}

	resp, payload := performRequest(t, app, http.MethodGet, "/v1/slo/report?tenantId=t1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(payload))
	}
}

func TestOpsIntegration_MetricsFlush(t *testing.T) {
	t.Parallel()

	flusher := &stubFlusher{}
	app := newOpsTestApp(t, &stubCircuits{}, &stubChaos{}, flusher)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/metrics/flush", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !flusher.called {
		t.Fatal("expected FlushAll to be called")
	}
}
