package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/page-village/onpage/src/components/admin"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
)

type Config struct {
	GuildID   string
	JWTSecret string
	AdminKey  string

	Settings *data.Settings
	Voice    *voice.Ledger
	Exp      *exp.Ledger
	Balance  *balance.Ledger
	Admin    *admin.Administrator
}

// New builds the admin and query API.
func New(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	attachRoutes(r, cfg)
	return r
}

func attachRoutes(r *gin.Engine, cfg Config) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	authH := NewAuth([]byte(cfg.JWTSecret), cfg.AdminKey)
	queryH := NewQuery(cfg)
	adminH := NewAdmin(cfg)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", authH.Login)

		secured := v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		secured.GET("/leaderboard/voice", queryH.VoiceLeaderboard)
		secured.GET("/leaderboard/exp", queryH.ExpLeaderboard)
		secured.GET("/users/:id/summary", queryH.UserSummary)
	}

	adminGroup := v1.Group("/admin")
	adminGroup.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
	{
		adminGroup.POST("/merge", adminH.Merge)
		adminGroup.POST("/reset/:id", adminH.ResetUser)
		adminGroup.POST("/reset-all", adminH.ResetAll)
		adminGroup.POST("/voice/reset", adminH.ResetVoice)
		adminGroup.POST("/balance/grant", adminH.Grant)
		adminGroup.POST("/import/voice", adminH.ImportVoice)
		adminGroup.POST("/fees", adminH.SetFeeTiers)
		adminGroup.POST("/settings/:name", adminH.SetSetting)
	}
}
