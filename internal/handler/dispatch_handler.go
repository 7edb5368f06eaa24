package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kursadbilgin/relay-guard/internal/dispatch"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/observability"
	"github.com/kursadbilgin/relay-guard/internal/repository"
)

type DispatchService interface {
	Dispatch(ctx context.Context, req domain.SendRequest) (*dispatch.Result, error)
}

type DispatchHandler struct {
	service    DispatchService
	deliveries repository.DeliveryRepository
}

func NewDispatchHandler(service DispatchService, deliveries repository.DeliveryRepository) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	return &DispatchHandler{service: service, deliveries: deliveries}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService, deliveries repository.DeliveryRepository) error {
	h, err := NewDispatchHandler(service, deliveries)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch", h.Dispatch)
	v1.Get("/deliveries/:id", h.GetDelivery)

	return nil
}

type dispatchRequest struct {
	TenantID      string         `json:"tenantId"`
	Channel       string         `json:"channel"`
	Recipient     string         `json:"recipient"`
	TemplateID    *string        `json:"templateId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

type deliveryResponse struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	Provider          string    `json:"provider"`
	Channel           string    `json:"channel"`
	Recipient         string    `json:"recipient"`
	CorrelationID     string    `json:"correlationId,omitempty"`
	Status            string    `json:"status"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	LastError         *string   `json:"lastError,omitempty"`
	AttemptCount      int       `json:"attemptCount"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}

	sendReq := domain.SendRequest{
		TenantID:      strings.TrimSpace(req.TenantID),
		Channel:       channel,
		Recipient:     strings.TrimSpace(req.Recipient),
		TemplateID:    req.TemplateID,
		Payload:       req.Payload,
		CorrelationID: resolveCorrelationID(c, req.CorrelationID),
	}

	ctx := observability.WithCorrelationID(c.Context(), sendReq.CorrelationID)
	result, err := h.service.Dispatch(ctx, sendReq)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *DispatchHandler) GetDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	delivery, err := h.deliveries.GetByID(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:                d.ID,
		TenantID:          d.TenantID,
		Provider:          d.Provider,
		Channel:           d.Channel.String(),
		Recipient:         d.Recipient,
		CorrelationID:     d.CorrelationID,
		Status:            d.Status.String(),
		ProviderMessageID: d.ProviderMessageID,
		LastError:         d.LastError,
		AttemptCount:      d.AttemptCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func resolveCorrelationID(c *fiber.Ctx, fromBody string) string {
	if trimmed := strings.TrimSpace(fromBody); trimmed != "" {
		return trimmed
	}
	if header := strings.TrimSpace(c.Get("X-Correlation-Id")); header != "" {
		return header
	}
	return uuid.NewString()
}
