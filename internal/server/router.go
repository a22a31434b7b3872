package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/config"
	"github.com/jmorel/visio/internal/domain"
)

const historyLimit = 50

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func SetupRouter(cfg *config.ServerConfig, auth *Auth, hub *Hub, store *MessageStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VisioSessions", sessStore))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "server.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.POST("/auth/register", func(c *gin.Context) {
		var creds credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		user, err := auth.Register(creds.Username, creds.Email, creds.Password)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrUserExists) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	api.POST("/auth/login", func(c *gin.Context) {
		var creds credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		token, err := auth.Login(creds.Username, creds.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		sess := sessions.Default(c)
		sess.Set("username", creds.Username)
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "server.http").Msg("session save")
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "username": creds.Username})
	})

	api.GET("/messages", func(c *gin.Context) {
		if _, ok := auth.Principal(bearerToken(c.GetHeader("Authorization"))); !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if store == nil {
			c.JSON(http.StatusOK, []domain.ChatMessage{})
			return
		}
		room := domain.RoomID(c.DefaultQuery("room", "general"))
		msgs, err := store.Recent(room, historyLimit)
		if err != nil {
			log.Error().Err(err).Str("module", "server.http").Msg("load history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		if msgs == nil {
			msgs = []domain.ChatMessage{}
		}
		c.JSON(http.StatusOK, msgs)
	})

	api.GET("/users/online", func(c *gin.Context) {
		if _, ok := auth.Principal(bearerToken(c.GetHeader("Authorization"))); !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.JSON(http.StatusOK, hub.Online())
	})

	api.GET("/ws", hub.HandleWS(auth, cfg.ReadLimit, cfg.PingPeriod))

	return r
}
