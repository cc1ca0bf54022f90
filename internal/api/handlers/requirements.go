package handlers

import (
	"net/http"
	"strings"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

// RequirementHandler upserts the requirement row for (channel, family). A
// missing family means the channel-wide "*" row.
type RequirementHandler struct {
	Gate Gate
}

func (h RequirementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req domain.ChannelRequirement
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	req.Channel = strings.TrimSpace(req.Channel)
	req.Family = strings.TrimSpace(req.Family)
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "invalid_channel", "channel is required")
		return
	}
	if req.Family == "" {
		req.Family = domain.WildcardFamily
	}
	if req.MinImages < 0 || req.MinDescriptionLength < 0 {
		writeError(w, http.StatusBadRequest, "invalid_requirement", "minimums must not be negative")
		return
	}

	if err := h.Gate.SetRequirement(r.Context(), req); err != nil {
		writeError(w, http.StatusInternalServerError, "set_requirement_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, req)
}
