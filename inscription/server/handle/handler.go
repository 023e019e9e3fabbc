package handle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/koinu-labs/kins/dao"
	"github.com/koinu-labs/kins/inscription"
	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/inscription/server/handle/middlewares"
	"github.com/koinu-labs/kins/internal/signal"
	"github.com/koinu-labs/kins/swap"
)

type Options struct {
	addr        string
	testnet     bool
	enablePProf bool
	engin       *gin.Engine
	db          *dao.DB
	inscriber   *inscription.Inscriber
	market      *swap.Market
}

type Option func(*Options)

func WithAddr(addr string) Option {
	return func(options *Options) {
		options.addr = addr
	}
}

func WithTestNet(testnet bool) Option {
	return func(options *Options) {
		options.testnet = testnet
	}
}

func WithPProf(enable bool) Option {
	return func(options *Options) {
		options.enablePProf = enable
	}
}

func WithEngin(g *gin.Engine) Option {
	return func(options *Options) {
		options.engin = g
	}
}

func WithDB(db *dao.DB) Option {
	return func(options *Options) {
		options.db = db
	}
}

func WithInscriber(inscriber *inscription.Inscriber) Option {
	return func(options *Options) {
		options.inscriber = inscriber
	}
}

func WithMarket(market *swap.Market) Option {
	return func(options *Options) {
		options.market = market
	}
}

type Handler struct {
	options *Options
}

func New(opts ...Option) (*Handler, error) {
	h := &Handler{options: &Options{}}
	for _, opt := range opts {
		opt(h.options)
	}
	if h.options.addr == "" {
		h.options.addr = ":8335"
		if h.options.testnet {
			h.options.addr = ":18335"
		}
	}
	if h.options.db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if h.options.inscriber == nil {
		return nil, fmt.Errorf("inscriber is nil")
	}
	if h.options.market == nil {
		return nil, fmt.Errorf("market is nil")
	}
	if h.options.engin == nil {
		h.options.engin = gin.New()
	}
	return h, nil
}

func (h *Handler) DB() *dao.DB {
	return h.options.db
}

func (h *Handler) Run() error {
	h.InitRoute()
	srv := &http.Server{
		Addr:    h.options.addr,
		Handler: h.options.engin,
	}
	signal.AddInterruptHandler(func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Srv.Error("srv.Shutdown", "err", err)
		}
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Srv.Error("srv.ListenAndServe", "err", err)
		}
	}()
	return nil
}

func (h *Handler) InitRoute() {
	engin := h.options.engin
	engin.Use(gin.Recovery(), middlewares.Logger())
	if h.options.enablePProf {
		pprof.Register(engin)
	}

	engin.POST("/inscribe", h.Inscribe)
	engin.GET("/job/:id", h.Job)

	market := engin.Group("/market")
	market.POST("/list", h.MarketList)
	market.POST("/buy", h.MarketBuy)
	market.POST("/unlist", h.MarketUnlist)
	market.POST("/send", h.MarketSend)
	market.GET("/status/:assetId", h.MarketStatus)
	market.GET("/collection/:slug/sold", h.CollectionSold)
}
