package webserver

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/components/voice"
)

type Query struct {
	cfg Config
}

func NewQuery(cfg Config) Query {
	return Query{cfg: cfg}
}

func parsePeriodParam(c *gin.Context) (calendar.Period, bool) {
	raw := c.DefaultQuery("period", string(calendar.PeriodWeekly))
	p, err := calendar.ParsePeriod(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "period must be daily, weekly, monthly or all"})
		return "", false
	}
	return p, true
}

func (q Query) VoiceLeaderboard(c *gin.Context) {
	period, ok := parsePeriodParam(c)
	if !ok {
		return
	}
	channels, err := q.cfg.Voice.ExpandChannels(c, q.cfg.GuildID, voice.SourceVoice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	all, err := q.cfg.Voice.AllUsersTimes(period, calendar.Now(), channels)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	type row struct {
		UserID  string `json:"user_id"`
		Seconds int64  `json:"seconds"`
	}
	rows := make([]row, 0, len(all))
	for userID, chans := range all {
		var sum int64
		for _, s := range chans {
			sum += s
		}
		rows = append(rows, row{UserID: userID, Seconds: sum})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seconds > rows[j].Seconds })
	if len(rows) > 100 {
		rows = rows[:100]
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "rows": rows})
}

func (q Query) ExpLeaderboard(c *gin.Context) {
	period, ok := parsePeriodParam(c)
	if !ok {
		return
	}
	rows, err := q.cfg.Exp.PeriodRankings(period, calendar.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if len(rows) > 100 {
		rows = rows[:100]
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "rows": rows})
}

func (q Query) UserSummary(c *gin.Context) {
	userID := c.Param("id")

	total, tier, err := q.cfg.Exp.Total(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	funds, err := q.cfg.Balance.Get(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	channels, err := q.cfg.Voice.ExpandChannels(c, q.cfg.GuildID, voice.SourceVoice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	rank, err := q.cfg.Voice.UserRank(userID, calendar.PeriodWeekly, calendar.Now(), channels)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"exp":           total,
		"tier":          tier,
		"balance":       funds,
		"voice_seconds": rank.Seconds,
		"voice_rank":    rank.Rank,
		"voice_of":      rank.TotalUsers,
	})
}
