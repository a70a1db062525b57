package data

import (
	"context"
	"time"

	"chainassistant/cmd/assistant-service/internal/conf"
	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
)

// Data 数据层资源集合
type Data struct {
	TTLStore cache.Store
	Vector   domain.VectorStore
	Graph    *Neo4jGraphStore

	log *log.Helper
}

// NewData 构建数据层资源，能力开关在此一次性确定
// 返回的 cleanup 负责关闭所有连接
func NewData(cfg *conf.Config, embedder domain.Embedder, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))
	d := &Data{log: helper}

	// TTL 存储：未配置 Redis 时退化为进程内存储
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// 不可达也继续使用：存储层会按降级语义返回未命中
			helper.Warnf("redis unreachable at startup, operations will degrade: %v", err)
		}
		cancel()
		d.TTLStore = cache.NewRedisStore(rdb, cfg.Redis.KeyPrefix, logger)
		helper.Infof("ttl store: redis at %s", cfg.Redis.Addr)
	} else {
		d.TTLStore = cache.NewMemoryStore()
		helper.Info("ttl store: in-process memory")
	}

	// 图存储
	var neo4jDriver neo4j.DriverWithContext
	if cfg.Neo4j.URI != "" {
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4j.URI,
			neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
		)
		if err != nil {
			helper.Warnf("neo4j driver init failed, graph store disabled: %v", err)
		} else {
			neo4jDriver = driver
			helper.Infof("graph store: neo4j at %s", cfg.Neo4j.URI)
		}
	} else {
		helper.Info("graph store: disabled (no uri configured)")
	}
	d.Graph = NewNeo4jGraphStore(neo4jDriver, cfg.Neo4j.Timeout, logger)

	// 向量存储
	var milvusClient client.Client
	if cfg.Milvus.Addr != "" && embedder != nil && embedder.Enabled() {
		connCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mc, err := client.NewClient(connCtx, client.Config{Address: cfg.Milvus.Addr})
		cancel()
		if err != nil {
			helper.Warnf("milvus connect failed, vector store disabled: %v", err)
		} else {
			milvusClient = mc
			helper.Infof("vector store: milvus at %s", cfg.Milvus.Addr)
		}
	} else {
		helper.Info("vector store: disabled (no addr or embedder)")
	}
	vector, err := NewMilvusVectorStore(milvusClient, embedder, cfg.Milvus.Collection, cfg.Milvus.Dim, cfg.Milvus.Timeout, logger)
	if err != nil {
		helper.Warnf("milvus collection setup failed, vector store disabled: %v", err)
		vector, _ = NewMilvusVectorStore(nil, nil, cfg.Milvus.Collection, cfg.Milvus.Dim, cfg.Milvus.Timeout, logger)
	}
	d.Vector = vector

	cleanup := func() {
		helper.Info("closing data layer resources")
		_ = d.TTLStore.Close()
		if neo4jDriver != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = neo4jDriver.Close(closeCtx)
			cancel()
		}
		if milvusClient != nil {
			_ = milvusClient.Close()
		}
	}
	return d, cleanup, nil
}
