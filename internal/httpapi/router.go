package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/config"
	"github.com/tillworks/possync/internal/flush"
	"github.com/tillworks/possync/internal/pager"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/scheduler"
)

// Deps carries the wired core components into the router.
type Deps struct {
	Cfg    config.Config
	Store  *cache.Store
	Queue  *queue.Queue
	Engine *flush.Engine
	Syncer *cache.Synchronizer
	Sched  *scheduler.Scheduler
	Pager  *pager.Service
}

// NewRouter builds the gin engine with all routes attached. The health
// probe and the websocket upgrade sit outside the bearer-auth group;
// the websocket identifies itself by query parameters instead.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	ph := NewPagerHandler(d.Pager, d.Cfg.TenantID)
	r.GET("/ws/pager", ph.ServeWS)

	api := r.Group("/api")
	api.Use(Auth(d.Cfg.AuthToken))
	{
		api.POST("/pager", ph.Post)
		api.PUT("/pager", ph.Ack)
		api.GET("/pager", ph.Latest)

		qh := NewQueueHandler(d.Queue, d.Engine, d.Sched)
		api.GET("/queue/status", qh.Status)
		api.POST("/queue/flush", qh.Flush)
		api.GET("/queue/export", qh.Export)

		sh := NewSyncHandler(d.Syncer)
		api.POST("/sync/now", sh.Now)
		api.GET("/sync/status", sh.Status)

		posh := NewPOSHandler(d.Store, d.Queue)
		pos := api.Group("/pos")
		{
			pos.GET("/menu", posh.Menu)
			pos.POST("/menu", posh.UpsertMenuItem)
			pos.GET("/inventory", posh.Inventory)
			pos.POST("/inventory/:id/adjust", posh.AdjustInventory)
			pos.GET("/users", posh.Users)
			pos.GET("/tickets", posh.ListTickets)
			pos.GET("/tickets/:id", posh.GetTicket)
			pos.POST("/tickets", posh.SaveTicket)
			pos.POST("/tickets/:id/close", posh.CloseTicket)
			pos.POST("/tickets/:id/void", posh.VoidTicket)
			pos.POST("/tickets/:id/lines", posh.SaveTicketLine)
			pos.GET("/shifts", posh.ListShifts)
			pos.POST("/shifts", posh.OpenShift)
			pos.POST("/shifts/:id/close", posh.CloseShift)
			pos.GET("/reports/:key", posh.GetReport)
			pos.POST("/reports/:key", posh.PutReport)
		}
	}
	return r
}
