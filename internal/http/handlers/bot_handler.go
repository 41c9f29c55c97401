// Bot HTTP handlers.
//
// This file exposes the bot picker endpoint:
//   - GET /bots (active bots with starter prompts)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-chat/internal/domain"
)

// BotView is the public projection of a bot. Model, provider and system
// prompt stay server-side.
type BotView struct {
	Slug        string   `json:"slug"         example:"metin"`
	Name        string   `json:"name"         example:"Metin"`
	Description string   `json:"description"  example:"Math tutor for middle school"`
	AvatarEmoji string   `json:"avatar_emoji" example:"🧮"`
	AvatarColor string   `json:"avatar_color" example:"#4f46e5"`
	Suggestions []string `json:"suggestions"`
}

// ListBotsResponse wraps the active bots.
type ListBotsResponse struct {
	Bots []BotView `json:"bots"`
}

func newBotView(b domain.Bot) BotView {
	s := b.SuggestionList()
	if s == nil {
		s = []string{}
	}
	return BotView{
		Slug:        b.Slug,
		Name:        b.Name,
		Description: b.Description,
		AvatarEmoji: b.AvatarEmoji,
		AvatarColor: b.AvatarColor,
		Suggestions: s,
	}
}

// ListBots godoc
// @ID          listBots
// @Summary     List active bots
// @Description Returns every selectable bot with its starter prompts. Deactivated bots are omitted.
// @Tags        Bots
// @Produce     json
//
// @Success     200  {object}  handlers.ListBotsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bots [get]
func (h *Handlers) ListBots(c *gin.Context) {
	bots, err := h.bots.ListActive(c.Request.Context())
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	out := ListBotsResponse{Bots: make([]BotView, 0, len(bots))}
	for _, b := range bots {
		out.Bots = append(out.Bots, newBotView(b))
	}
	ok(c, http.StatusOK, out)
}
