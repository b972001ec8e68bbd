// Package httpapi exposes the bridge's control surface: a small chi router
// for inspecting and managing bridged pairs, wired through the same
// middleware stack (CORS, panic recovery, latency tracking, rate limiting)
// the service already used for its other HTTP surface.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/muni-town/roomy-bridge/src/middleware"
	"github.com/muni-town/roomy-bridge/src/orchestrator"
	"github.com/muni-town/roomy-bridge/src/types"
	"github.com/muni-town/roomy-bridge/src/utils"
	"github.com/muni-town/roomy-bridge/src/version"
)

// NewRouter builds the chi router for the bridge's control API.
func NewRouter(orch *orchestrator.Orchestrator, behindProxy bool, rateLimitPerSecond int) *chi.Mux {
	r := chi.NewRouter()
	middleware.Setup(r, behindProxy, rateLimitPerSecond)

	r.Get("/healthz", handleHealthz)
	r.Get("/info", handleInfo(orch))
	r.Get("/get-guild-id", handleGetGuildID(orch))
	r.Get("/get-space-id", handleGetSpaceID(orch))
	r.Post("/join-space", handleJoinSpace(orch))

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func handleInfo(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]any{
			"version": version.Version,
			"botId":   orch.BotUserID(),
		})
	}
}

// handleGetGuildID resolves the Discord guild id bridged to a given Roomy
// space, by ?spaceId= query parameter.
func handleGetGuildID(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spaceID := types.StreamDid(r.URL.Query().Get("spaceId"))
		if spaceID == "" {
			utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "spaceId is required"})
			return
		}
		guildID, ok := orch.GuildForSpace(spaceID)
		if !ok {
			utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no bridge for that space"})
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"guildId": string(guildID)})
	}
}

// handleGetSpaceID resolves the Roomy space bridged to a given Discord
// guild, by ?guildId= query parameter.
func handleGetSpaceID(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guildID := types.Snowflake(r.URL.Query().Get("guildId"))
		if guildID == "" {
			utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "guildId is required"})
			return
		}
		spaceID, ok := orch.SpaceForGuild(guildID)
		if !ok {
			utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no bridge for that guild"})
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"spaceId": string(spaceID)})
	}
}

type joinSpaceRequest struct {
	GuildID string `json:"guildId"`
	SpaceID string `json:"spaceId"`
}

// handleJoinSpace creates a new bridged pair, the HTTP-surfaced equivalent
// of the /bridge create slash command, intended for a setup web UI that
// can't issue Discord interactions directly.
func handleJoinSpace(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := utils.UnmarshalToMap(readBody(r))
		if !ok {
			utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
			return
		}
		guildID := utils.GetString(m["guildId"])
		spaceID := utils.GetString(m["spaceId"])
		if guildID == "" || spaceID == "" {
			utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "guildId and spaceId are required"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		b, err := orch.CreateBridge(ctx, types.Snowflake(guildID), types.StreamDid(spaceID))
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		utils.WriteJSON(w, http.StatusAccepted, map[string]string{"phase": string(b.Phase())})
	}
}

func readBody(r *http.Request) []byte {
	defer r.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	return body
}
