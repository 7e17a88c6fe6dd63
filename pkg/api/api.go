// Package api provides a REST API for a running scale driver.
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/scale"
)

// API denotes a REST API for a scale
type API struct {
	device scale.Device
	router *fiber.App
	logger scale.Logger

	mu         sync.RWMutex
	lastStable *scale.StableWeight
	lastSample *scale.Sample
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Open               bool   `json:"open"`
	Port               string `json:"port,omitempty"`
	ConsecutiveMatches int    `json:"consecutive_matches"`
	LastWeight         string `json:"last_weight"`
	AwaitingNewObject  bool   `json:"awaiting_new_object"`
}

// WeightResponse is returned by GET /weight and GET /weight/live
type WeightResponse struct {
	ID         string    `json:"id,omitempty"`
	Weight     float64   `json:"weight"`
	Display    string    `json:"display"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   uint64    `json:"sequence"`
	SettleTime string    `json:"settle_time,omitempty"`
}

// CommandRequest is the body of POST /command
type CommandRequest struct {
	Request        string `json:"request"` // Hex encoded
	ResponseLength int    `json:"response_length"`
	TimeoutMs      int    `json:"timeout_ms"`
}

// CommandResponse is returned by POST /command
type CommandResponse struct {
	Response string `json:"response"` // Hex encoded
	Complete bool   `json:"complete"`
}

// New instantiates a new API and subscribes it to the events of device
func New(device scale.Device, logger scale.Logger) *API {
	if logger == nil {
		logger = &scale.NullLogger{}
	}

	api := &API{
		device: device,
		logger: logger,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	device.OnStableWeight(func(ev scale.StableWeight) {
		api.mu.Lock()
		api.lastStable = &ev
		api.mu.Unlock()
	})
	device.OnSample(func(s scale.Sample) {
		api.mu.Lock()
		api.lastSample = &s
		api.mu.Unlock()
	})

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/weight", api.handleWeight())
	api.router.Get("/weight/live", api.handleLiveWeight())
	api.router.Post("/command", api.handleCommand())

	return api
}

// App returns the underlying fiber application
func (api *API) App() *fiber.App {
	return api.router
}

// Listen serves the API on addr until Shutdown is called
func (api *API) Listen(addr string) error {
	api.logger.Infof("serving API on %s", addr)
	return api.router.Listen(addr)
}

// Shutdown stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		st := api.device.Stabilization()
		resp := StatusResponse{
			Open:               api.device.IsOpen(),
			ConsecutiveMatches: st.ConsecutiveMatches,
			LastWeight:         st.LastWeight.String(),
			AwaitingNewObject:  st.AwaitingNewObject,
		}
		if resp.Open {
			resp.Port = api.device.Config().String()
		}
		return c.JSON(resp)
	}
}

func (api *API) handleWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		api.mu.RLock()
		ev := api.lastStable
		api.mu.RUnlock()

		if ev == nil {
			return fiber.NewError(fiber.StatusNotFound, "no stable weight yet")
		}

		return c.JSON(WeightResponse{
			ID:         ev.ID.String(),
			Weight:     ev.Weight.Float64(),
			Display:    ev.Weight.String(),
			Timestamp:  ev.Timestamp,
			Sequence:   ev.Sequence,
			SettleTime: ev.SettleTime.String(),
		})
	}
}

func (api *API) handleLiveWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		api.mu.RLock()
		s := api.lastSample
		api.mu.RUnlock()

		if s == nil {
			return fiber.NewError(fiber.StatusNotFound, "no sample yet")
		}

		return c.JSON(WeightResponse{
			Weight:    s.Weight.Float64(),
			Display:   s.Weight.String(),
			Timestamp: s.Timestamp,
			Sequence:  s.Sequence,
		})
	}
}

func (api *API) handleCommand() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var req CommandRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		request, err := HexToBytes(req.Request)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(request) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "empty request")
		}
		if req.ResponseLength < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "negative response length")
		}

		ctx := c.UserContext()
		if req.TimeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}

		response, err := api.device.SendCommand(ctx, request, req.ResponseLength)
		switch {
		case err == nil:
		case errors.Is(err, scale.ErrCommandTimeout):
			api.logger.Warnf("command %s: %s", req.Request, err)
		case errors.Is(err, link.ErrPortClosed):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return c.JSON(CommandResponse{
			Response: BytesToHex(response),
			Complete: err == nil,
		})
	}
}

// HexToBytes decodes a hex string, ignoring spaces between bytes
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

// BytesToHex encodes b as an upper case hex string
func BytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
