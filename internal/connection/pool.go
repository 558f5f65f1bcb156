package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"contractkit/internal/config"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/internal/retry"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultHealthCheckInterval = 30 * time.Second
	healthCheckTimeout         = 5 * time.Second
)

// Pool 多节点RPC通道，按优先级选择健康节点，网络故障时切换到下一个节点
type Pool struct {
	nodes   []*NodeClient
	logger  *logrus.Logger
	metrics *metrics.Metrics

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NodeClient 单个节点的客户端
type NodeClient struct {
	config  *config.NodeConfig
	client  *rpc.Client
	limiter *rate.Limiter
	timeout time.Duration

	mu        sync.Mutex
	isHealthy bool
	lastCheck time.Time
	lastErr   error
}

// NewPool 连接所有配置了URL的节点，至少一个成功才返回
func NewPool(ctx context.Context, nodes []*config.NodeConfig, logger *logrus.Logger, m *metrics.Metrics) (*Pool, error) {
	logger = logging.OrDiscard(logger)

	sorted := make([]*config.NodeConfig, 0, len(nodes))
	for _, n := range nodes {
		if n != nil && n.URL != "" {
			sorted = append(sorted, n)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	p := &Pool{
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}

	for _, nodeConfig := range sorted {
		client, err := rpc.DialContext(ctx, nodeConfig.URL)
		if err != nil {
			logger.Warnf("连接节点 %s 失败: %v", nodeConfig.Name, err)
			continue
		}

		var limiter *rate.Limiter
		if nodeConfig.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(nodeConfig.RateLimit), nodeConfig.RateLimit)
		}

		p.nodes = append(p.nodes, &NodeClient{
			config:    nodeConfig,
			client:    client,
			limiter:   limiter,
			timeout:   nodeConfig.RequestTimeout(),
			isHealthy: true,
			lastCheck: time.Now(),
		})
		logger.Infof("节点 %s 已连接", nodeConfig.Name)
	}

	if len(p.nodes) == 0 {
		return nil, errors.NewContractError(errors.ErrorTypeConfig, errors.SeverityCritical, "NO_NODES", "没有可用的节点").
			WithComponent("connection_pool")
	}
	return p, nil
}

// CallContext 实现Channel
func (p *Pool) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var lastErr error

	for _, node := range p.candidates() {
		if node.limiter != nil {
			if err := node.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("等待节点 %s 限流失败: %w", node.config.Name, err)
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, node.timeout)
		start := time.Now()
		err := node.client.CallContext(reqCtx, result, method, args...)
		cancel()
		p.metrics.RecordRPC(method, node.config.Name, time.Since(start), err)

		if err == nil {
			node.markHealthy()
			return nil
		}

		lastErr = fmt.Errorf("节点 %s: %w", node.config.Name, err)
		if ctx.Err() != nil || !shouldFailover(err) {
			return lastErr
		}

		node.markUnhealthy(err)
		logging.NewRPCLogger(p.logger, method, node.config.Name).Warnf("请求失败，切换节点: %v", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("没有可用的健康节点")
	}
	return lastErr
}

// candidates 健康节点按优先级在前，不健康节点作为最后手段
func (p *Pool) candidates() []*NodeClient {
	healthy := make([]*NodeClient, 0, len(p.nodes))
	var unhealthy []*NodeClient
	for _, n := range p.nodes {
		if n.IsHealthy() {
			healthy = append(healthy, n)
		} else {
			unhealthy = append(unhealthy, n)
		}
	}
	return append(healthy, unhealthy...)
}

// shouldFailover 节点返回的JSON-RPC错误是确定性的答复，不切换节点
func shouldFailover(err error) bool {
	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) {
		return false
	}
	var httpErr rpc.HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	return stderrors.Is(err, context.DeadlineExceeded) || retry.IsNetworkError(err)
}

// StartHealthCheck 后台定期探测不健康的节点
func (p *Pool) StartHealthCheck(interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.checkNodes()
			}
		}
	}()
}

func (p *Pool) checkNodes() {
	for _, node := range p.nodes {
		if node.IsHealthy() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		_, err := ChainID(ctx, node.client)
		cancel()
		if err != nil {
			node.markUnhealthy(err)
			p.logger.Warnf("节点 %s 健康检查失败: %v", node.config.Name, err)
			continue
		}
		node.markHealthy()
		p.logger.Infof("节点 %s 已恢复", node.config.Name)
	}
}

// IsHealthy 节点是否健康
func (n *NodeClient) IsHealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isHealthy
}

func (n *NodeClient) markHealthy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isHealthy = true
	n.lastErr = nil
	n.lastCheck = time.Now()
}

func (n *NodeClient) markUnhealthy(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isHealthy = false
	n.lastErr = err
	n.lastCheck = time.Now()
}

// GetStats 获取连接池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	stats := make(map[string]interface{}, len(p.nodes))
	for _, node := range p.nodes {
		node.mu.Lock()
		nodeStats := map[string]interface{}{
			"priority":   node.config.Priority,
			"rate_limit": node.config.RateLimit,
			"is_healthy": node.isHealthy,
			"last_check": node.lastCheck.Format(time.RFC3339),
		}
		if node.lastErr != nil {
			nodeStats["last_error"] = node.lastErr.Error()
		}
		node.mu.Unlock()
		stats[node.config.Name] = nodeStats
	}
	return stats
}

// Close 停止健康检查并关闭所有客户端
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		for _, node := range p.nodes {
			node.client.Close()
		}
		p.logger.Info("连接池已关闭")
	})
	return nil
}
