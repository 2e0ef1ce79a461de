package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/resolver"
)

// ProbeHandler exposes upstream availability checks.
type ProbeHandler struct {
	probe *resolver.Probe
}

// NewProbeHandler creates a probe handler.
func NewProbeHandler(probe *resolver.Probe) *ProbeHandler {
	return &ProbeHandler{probe: probe}
}

// ProbeInput describes the content and languages to check.
type ProbeInput struct {
	Kind      string   `query:"kind" enum:"movie,episode" doc:"Content kind"`
	ContentID string   `query:"content_id" doc:"Catalog content identifier"`
	Season    int      `query:"season" doc:"Season number, episodes only"`
	Episode   int      `query:"episode" doc:"Episode number, episodes only"`
	Languages []string `query:"languages" doc:"Languages to check, in preference order"`
}

// ProbeBody reports which of the requested languages are served upstream.
type ProbeBody struct {
	Available []string `json:"available"`
	// First is the highest-preference available language, empty when none.
	First string `json:"first,omitempty"`
}

// ProbeOutput is the probe response.
type ProbeOutput struct {
	Body ProbeBody
}

// Register registers the probe route with the API.
func (h *ProbeHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "probeAvailability",
		Method:      "GET",
		Path:        "/api/v1/probe",
		Summary:     "Probe upstream availability",
		Description: "Checks which requested languages the embed provider serves, without downloading",
		Tags:        []string{"Probe"},
	}, h.Probe)
}

// Probe checks availability for every requested language.
func (h *ProbeHandler) Probe(ctx context.Context, input *ProbeInput) (*ProbeOutput, error) {
	kind := models.ContentKind(input.Kind)
	if kind != models.KindMovie && kind != models.KindEpisode {
		return nil, huma.Error422UnprocessableEntity("kind must be movie or episode")
	}
	if input.ContentID == "" {
		return nil, huma.Error422UnprocessableEntity("content_id is required")
	}
	if len(input.Languages) == 0 {
		return nil, huma.Error422UnprocessableEntity("at least one language is required")
	}

	base := resolver.Request{
		Kind:      kind,
		ContentID: input.ContentID,
		Season:    input.Season,
		Episode:   input.Episode,
	}

	available := h.probe.Available(ctx, base, input.Languages)
	body := ProbeBody{Available: available}
	if body.Available == nil {
		body.Available = []string{}
	}
	if len(available) > 0 {
		body.First = available[0]
	}

	return &ProbeOutput{Body: body}, nil
}
