package svc

import (
	"context"
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	icache "paygate-api/internal/cache"
	"paygate-api/internal/config"
	"paygate-api/internal/model"
	"paygate-api/internal/repo"
	gatepkg "paygate-api/pkg/gate"
	llmpkg "paygate-api/pkg/llm"
	_ "paygate-api/pkg/llm/anthropic"
	_ "paygate-api/pkg/llm/gemini"
	_ "paygate-api/pkg/llm/openai"
	orchestratorpkg "paygate-api/pkg/orchestrator"
	toolspkg "paygate-api/pkg/toolcatalog"
)

type ServiceContext struct {
	Config config.Config

	LLMConfig    *llmpkg.Config
	Router       *llmpkg.Router
	Bridge       *toolspkg.Bridge
	Orchestrator *orchestratorpkg.Orchestrator
	Gate         *gatepkg.Gate
	Pricing      *gatepkg.PricingConfig

	Ledger *repo.Ledger

	DBConn           sqlx.SqlConn
	DebtRecordsModel model.DebtRecordsModel
	UsageModel       model.UsageRecordsModel
	PaymentsModel    model.PaymentsModel
	SessionKeysModel model.SessionKeysModel
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	if c.LLM.Value == nil {
		log.Fatal("llm config section is required")
	}
	svc.LLMConfig = c.LLM.Value
	providers, err := c.LLM.Value.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build llm providers: %v", err)
	}
	router, err := llmpkg.NewRouter(providers, c.LLM.Value.Default)
	if err != nil {
		log.Fatalf("failed to build llm router: %v", err)
	}
	svc.Router = router

	if c.Tools.Value != nil && len(c.Tools.Value.Servers) > 0 {
		svc.Bridge = toolspkg.NewBridge(context.Background(), c.Tools.Value, llmpkg.NewLogger(c.LLM.Value.LogLevel))
	}

	orchOpts := []orchestratorpkg.Option{
		orchestratorpkg.WithMaxToolRounds(c.Orchestrator.MaxToolRounds),
		orchestratorpkg.WithLogger(llmpkg.NewLogger(c.LLM.Value.LogLevel)),
	}
	if svc.Bridge != nil {
		orchOpts = append(orchOpts, orchestratorpkg.WithCatalog(svc.Bridge))
	}
	if strings.TrimSpace(c.Orchestrator.SystemPrompt) != "" {
		orchOpts = append(orchOpts, orchestratorpkg.WithSystemPrompt(c.Orchestrator.SystemPrompt))
	}
	svc.Orchestrator = orchestratorpkg.New(svc.Router, orchOpts...)

	var redisClient *redis.Redis
	var cacheStore cache.Cache
	if strings.TrimSpace(c.Redis.Host) != "" {
		redisClient = redis.MustNewRedis(c.Redis)
		cacheStore = cache.New(
			cache.CacheConf{{RedisConf: c.Redis, Weight: 100}},
			syncx.NewSingleFlight(),
			cache.NewStat(icache.Namespace),
			model.ErrNotFound,
		)
	}

	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.DebtRecordsModel = model.NewDebtRecordsModel(conn)
		svc.UsageModel = model.NewUsageRecordsModel(conn)
		svc.PaymentsModel = model.NewPaymentsModel(conn)
		svc.SessionKeysModel = model.NewSessionKeysModel(conn)

		svc.Ledger = repo.NewLedger(
			svc.DebtRecordsModel,
			svc.UsageModel,
			svc.PaymentsModel,
			cacheStore,
			icache.NewTTLSet(c.TTL),
			c.DefaultThreshold(),
		)
	}

	if c.Gate.Value != nil {
		if svc.Ledger == nil {
			log.Fatal("gate requires a postgres ledger")
		}
		svc.Pricing = &c.Gate.Value.Pricing

		var settler gatepkg.Settler
		if c.Payment.Value != nil {
			payer, err := c.Payment.Value.BuildAutoPayer()
			if err != nil {
				log.Fatalf("failed to build auto payer: %v", err)
			}
			settler = payer

			facilitator, err := c.Payment.Value.BuildFacilitator()
			if err != nil {
				log.Fatalf("failed to build facilitator: %v", err)
			}
			if facilitator != nil && svc.SessionKeysModel != nil {
				settler = repo.NewKeyedSettler(repo.NewSessionKeys(svc.SessionKeysModel), facilitator, settler)
			}
			settler = repo.NewLockedSettler(settler, redisClient)
		}
		svc.Gate = gatepkg.New(svc.Ledger, settler, svc.Pricing, c.Gate.Value.SessionSecret)
	}

	return svc
}
