package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// chatHistoryKey is the list of delivered chat lines per match.
func chatHistoryKey(matchID string) string { return "chathistory:" + matchID }

// chatHistoryLimit caps how many of the most recent chat lines a history
// read returns.
const chatHistoryLimit = 100

func (s *Server) activeMatchesHandler(c *gin.Context) {
	matches, err := s.matches.ListByStatus(c.Request.Context(), models.MatchStatusActive, 100)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// getMatchHandler returns the participant view (full state) to players and
// a public view (no code) to everyone else.
func (s *Server) getMatchHandler(c *gin.Context) {
	matchID := c.Param("id")
	state, err := s.matchSM.Get(c.Request.Context(), matchID)
	if err != nil {
		// Fall back to the persistent row for finished matches whose
		// ephemeral state has expired.
		row, rowErr := s.matches.GetMatch(c.Request.Context(), matchID)
		if rowErr != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
		return
	}

	if _, isPlayer := state.PlayerFor(currentUserID(c)); isPlayer {
		c.JSON(http.StatusOK, state)
		return
	}
	c.JSON(http.StatusOK, publicMatchView(state))
}

// publicMatchView strips player code and cursors for spectating reads.
func publicMatchView(state *models.MatchState) gin.H {
	return gin.H{
		"id":           state.ID,
		"challenge_id": state.ChallengeID,
		"player1_id":   state.Player1ID,
		"player2_id":   state.Player2ID,
		"status":       state.Status,
		"started_at":   state.StartedAt,
		"player1":      gin.H{"ready": state.Player1.Ready, "submitted": state.Player1.Submitted},
		"player2":      gin.H{"ready": state.Player2.Ready, "submitted": state.Player2.Submitted},
	}
}

// replayHandler returns the persisted match row with score breakdown.
func (s *Server) replayHandler(c *gin.Context) {
	row, err := s.matches.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) spectateHandler(c *gin.Context) {
	matchID := c.Param("id")
	state, err := s.matchSM.Get(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}

	s.hub.JoinSpectators(currentUserID(c), matchID)
	c.JSON(http.StatusOK, publicMatchView(state))
}

func (s *Server) chatHistoryHandler(c *gin.Context) {
	lines, err := s.store.LRange(c.Request.Context(), chatHistoryKey(c.Param("id")), -chatHistoryLimit, -1)
	if err != nil {
		respondError(c, err)
		return
	}
	messages := make([]json.RawMessage, 0, len(lines))
	for _, l := range lines {
		messages = append(messages, json.RawMessage(l))
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
