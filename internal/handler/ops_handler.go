package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/relay-guard/internal/chaos"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/health"
	"github.com/kursadbilgin/relay-guard/internal/slo"
)

type CircuitController interface {
	ForceOpen(ctx context.Context, tenantID, provider string) error
	ForceReset(ctx context.Context, tenantID, provider string) error
}

type SLOReporter interface {
	ExportReport(ctx context.Context, tenantID string) (*slo.Report, error)
}

type PlatformHealth interface {
	CheckAll(ctx context.Context) *health.PlatformReport
}

type ChaosControl interface {
	Enable(cfg chaos.Config) error
	Disable()
	Status() *chaos.Config
	IsAllowed() bool
}

type MetricsFlusher interface {
	FlushAll(ctx context.Context) error
}

// OpsHandler exposes the operator surface: provider health, SLO
// reports, circuit overrides, chaos drills and the metrics sweep.
type OpsHandler struct {
	circuits CircuitController
	slo      SLOReporter
	health   PlatformHealth
	chaos    ChaosControl
	flusher  MetricsFlusher
}

func NewOpsHandler(circuits CircuitController, reporter SLOReporter, platform PlatformHealth, chaosCtl ChaosControl, flusher MetricsFlusher) (*OpsHandler, error) {
	if circuits == nil {
		return nil, fmt.Errorf("circuit controller is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("slo reporter is required")
	}
	if platform == nil {
		return nil, fmt.Errorf("platform health is required")
	}
	if chaosCtl == nil {
		return nil, fmt.Errorf("chaos control is required")
	}
	if flusher == nil {
		return nil, fmt.Errorf("metrics flusher is required")
	}

	return &OpsHandler{
		circuits: circuits,
		slo:      reporter,
		health:   platform,
		chaos:    chaosCtl,
		flusher:  flusher,
	}, nil
}

func RegisterOpsRoutes(router fiber.Router, circuits CircuitController, reporter SLOReporter, platform PlatformHealth, chaosCtl ChaosControl, flusher MetricsFlusher) error {
	h, err := NewOpsHandler(circuits, reporter, platform, chaosCtl, flusher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/providers/health", h.ProvidersHealth)
	v1.Get("/slo/report", h.SLOReport)
	v1.Post("/circuit/:tenant/:provider/open", h.OpenCircuit)
	v1.Post("/circuit/:tenant/:provider/reset", h.ResetCircuit)
	v1.Post("/chaos/enable", h.EnableChaos)
	v1.Post("/chaos/disable", h.DisableChaos)
	v1.Get("/chaos/status", h.ChaosStatus)
	v1.Post("/metrics/flush", h.FlushMetrics)

	return nil
}

func (h *OpsHandler) ProvidersHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.health.CheckAll(c.Context()))
}

func (h *OpsHandler) SLOReport(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Query("tenantId"))
	if tenantID == "" {
		return fmt.Errorf("%w: tenantId query parameter is required", domain.ErrValidation)
	}

	report, err := h.slo.ExportReport(c.Context(), tenantID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func (h *OpsHandler) OpenCircuit(c *fiber.Ctx) error {
	tenantID, provider, err := circuitParams(c)
	if err != nil {
		return err
	}

	if err := h.circuits.ForceOpen(c.Context(), tenantID, provider); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"tenantId": tenantID,
		"provider": provider,
		"state":    domain.CircuitOpen.String(),
	})
}

func (h *OpsHandler) ResetCircuit(c *fiber.Ctx) error {
	tenantID, provider, err := circuitParams(c)
	if err != nil {
		return err
	}

	if err := h.circuits.ForceReset(c.Context(), tenantID, provider); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"tenantId": tenantID,
		"provider": provider,
		"state":    domain.CircuitClosed.String(),
	})
}

func (h *OpsHandler) EnableChaos(c *fiber.Ctx) error {
	var cfg chaos.Config
	if err := c.BodyParser(&cfg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.chaos.Enable(cfg); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"enabled":  true,
		"scenario": cfg.Scenario,
	})
}

func (h *OpsHandler) DisableChaos(c *fiber.Ctx) error {
	h.chaos.Disable()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"enabled": false,
	})
}

func (h *OpsHandler) ChaosStatus(c *fiber.Ctx) error {
	status := h.chaos.Status()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"allowed": h.chaos.IsAllowed(),
		"enabled": status != nil,
		"config":  status,
	})
}

func (h *OpsHandler) FlushMetrics(c *fiber.Ctx) error {
	if err := h.flusher.FlushAll(c.Context()); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"flushed": true,
	})
}

func circuitParams(c *fiber.Ctx) (tenantID, provider string, err error) {
	tenantID = strings.TrimSpace(c.Params("tenant"))
	provider = strings.TrimSpace(c.Params("provider"))
	if tenantID == "" || provider == "" {
		return "", "", fmt.Errorf("%w: tenant and provider are required", domain.ErrValidation)
	}
	return tenantID, provider, nil
}
