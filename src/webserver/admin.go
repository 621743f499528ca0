package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/page-village/onpage/src/components/admin"
	"github.com/page-village/onpage/src/types"
)

// reportErrors flattens a merge report for the JSON response.
func reportErrors(r admin.MergeReport) map[string]string {
	out := make(map[string]string)
	for name, err := range map[string]error{
		"voice": r.Voice, "exp": r.Exp, "balance": r.Balance,
		"birthday": r.Birthday, "fortune": r.Fortune,
	} {
		if err != nil {
			out[name] = err.Error()
		}
	}
	return out
}

type Admin struct {
	cfg Config
}

func NewAdmin(cfg Config) Admin {
	return Admin{cfg: cfg}
}

func (a Admin) Merge(c *gin.Context) {
	var req struct {
		From string `json:"from" binding:"required"`
		Into string `json:"into" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if req.From == req.Into {
		c.JSON(http.StatusBadRequest, gin.H{"err": "from and into are the same user"})
		return
	}
	report := a.cfg.Admin.Merge(c, req.From, req.Into)
	if !report.OK() {
		c.JSON(http.StatusInternalServerError, gin.H{"report": reportErrors(report)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": true})
}

func (a Admin) ResetUser(c *gin.Context) {
	if err := a.cfg.Admin.ResetUser(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (a Admin) ResetAll(c *gin.Context) {
	if err := a.cfg.Admin.ResetAllUsers(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (a Admin) ResetVoice(c *gin.Context) {
	if err := a.cfg.Admin.ResetVoiceData(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (a Admin) Grant(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
		Amount  int64    `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	n, err := a.cfg.Balance.BulkGrant(req.UserIDs, req.Amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": n})
}

func (a Admin) ImportVoice(c *gin.Context) {
	var req struct {
		Rows []struct {
			Date      string `json:"date" binding:"required"`
			UserID    string `json:"user_id" binding:"required"`
			ChannelID string `json:"channel_id" binding:"required"`
			Seconds   int64  `json:"seconds" binding:"required"`
		} `json:"rows" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	rows := make([]types.VoiceTime, 0, len(req.Rows))
	for _, r := range req.Rows {
		rows = append(rows, types.VoiceTime{
			Date:      r.Date,
			UserID:    r.UserID,
			ChannelID: r.ChannelID,
			Seconds:   r.Seconds,
		})
	}
	n, err := a.cfg.Admin.ImportVoiceData(rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func (a Admin) SetFeeTiers(c *gin.Context) {
	var req struct {
		Tiers []struct {
			MinAmount int64 `json:"min_amount"`
			Fee       int64 `json:"fee"`
		} `json:"tiers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	tiers := make([]types.FeeTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, types.FeeTier{
			GuildID:   a.cfg.GuildID,
			MinAmount: t.MinAmount,
			Fee:       t.Fee,
		})
	}
	if err := a.cfg.Balance.SetFeeTiers(a.cfg.GuildID, tiers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": len(tiers)})
}

func (a Admin) SetSetting(c *gin.Context) {
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := a.cfg.Settings.Set(a.cfg.GuildID, c.Param("name"), req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}
