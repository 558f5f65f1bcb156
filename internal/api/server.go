package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"contractkit/internal/abi"
	"contractkit/internal/config"
	"contractkit/internal/connection"
	"contractkit/internal/contract"
	"contractkit/internal/decoder"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/internal/output"
	"contractkit/internal/store"
	"contractkit/internal/transaction"
	"contractkit/internal/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const registryCacheSize = 256

// NodeStats 节点状态来源，连接池实现了该接口
type NodeStats interface {
	GetStats() map[string]interface{}
}

// Deps 服务依赖，Channel和Store必填
type Deps struct {
	Channel connection.Channel
	Store   store.Store
	Watcher *transaction.Watcher  // 为空时不支持等待回执
	Decoder *decoder.InputDecoder // 为空时不提供输入解码
	Sink    output.Sink           // 为空时不导出
	Metrics *metrics.Metrics
	Nodes   NodeStats
}

// Server 合约HTTP网关
type Server struct {
	cfg          *config.APIConfig
	deps         Deps
	logger       *logrus.Logger
	logManager   *LogManager
	validator    *validation.Validator
	errorHandler *errors.ErrorHandler
	registries   *lru.Cache // 地址 -> *abi.Registry
	router       *gin.Engine
	startedAt    time.Time

	mu     sync.Mutex
	server *http.Server
}

// NewServer 创建API服务器
func NewServer(cfg *config.APIConfig, deps Deps, logger *logrus.Logger) (*Server, error) {
	if deps.Channel == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: API服务需要节点通道和存储", errors.ErrConfigInvalid)
	}
	if cfg == nil {
		cfg = &config.APIConfig{Port: 8080, Mode: gin.ReleaseMode}
	}
	logger = logging.OrDiscard(logger)

	cache, err := lru.New(registryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建ABI缓存失败: %w", err)
	}

	// 最多保存1000条日志
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager, logrus.InfoLevel))

	s := &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		logManager:   logManager,
		validator:    validation.NewValidator(logger, false),
		errorHandler: errors.NewErrorHandler(logger),
		registries:   cache,
		startedAt:    time.Now(),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler 供测试或嵌入其他服务器使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// ErrorHandler 请求错误的统计
func (s *Server) ErrorHandler() *errors.ErrorHandler {
	return s.errorHandler
}

// Start 启动API服务器，阻塞直到Stop
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器，等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("正在关闭API服务器...")
	return srv.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	if s.cfg.Mode != "" {
		gin.SetMode(s.cfg.Mode)
	}
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(s.requestLogger(), gin.Recovery())

	s.setupRoutes(router)
	return router
}

// requestLogger 用logrus记录请求
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"component": "api",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
		}).Debug("处理请求")
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		// 合约ABI
		api.GET("/contracts", s.listContracts)
		api.GET("/contracts/:address/abi", s.getABI)
		api.PUT("/contracts/:address/abi", s.putABI)

		// 合约调用
		api.POST("/contracts/:address/call/:function", s.callFunction)
		api.POST("/contracts/:address/send/:function", s.sendTransaction)
		api.POST("/contracts/:address/logs/:event", s.queryLogs)

		// 交易
		api.GET("/transactions/:hash/receipt", s.getReceipt)
		api.GET("/transactions/pending", s.listPending)

		// 输入解码
		api.POST("/decode", s.decodeInput)

		// 诊断
		api.GET("/errors", s.getErrors)
		api.DELETE("/errors", s.clearErrors)
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
		api.GET("/nodes", s.getNodes)
	}
}

// statusFor 错误类型到HTTP状态码
func statusFor(err error) int {
	t, ok := errors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case errors.ErrorTypeParse, errors.ErrorTypeEncode, errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeMutabilityViolation:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeDecode, errors.ErrorTypeTransport, errors.ErrorTypeExternalAPI:
		return http.StatusBadGateway
	case errors.ErrorTypeReceiptTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError 记录错误并按类型返回
func (s *Server) respondError(c *gin.Context, err error) {
	ce := s.errorHandler.HandleError(c.Request.Context(), err)
	body := gin.H{
		"error":   ce.Code,
		"type":    ce.Type.String(),
		"message": ce.Error(),
	}
	if len(ce.Context) > 0 {
		body["context"] = ce.Context
	}
	if ce.TxHash != nil {
		body["tx_hash"] = *ce.TxHash
	}
	c.JSON(statusFor(ce), body)
}

// respondInvalid 返回验证失败的全部错误
func (s *Server) respondInvalid(c *gin.Context, result *validation.ValidationResult) {
	messages := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		s.errorHandler.HandleError(c.Request.Context(), e)
		messages[i] = e.Error()
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":    result.Errors[0].Code,
		"type":     result.Errors[0].Type.String(),
		"message":  result.Errors[0].Error(),
		"errors":   messages,
		"warnings": result.Warnings,
	})
}

// loadContract 按地址取出ABI并绑定合约句柄
func (s *Server) loadContract(c *gin.Context, address common.Address) (*contract.Contract, error) {
	if cached, ok := s.registries.Get(address); ok {
		return contract.New(address, cached.(*abi.Registry), s.deps.Channel, s.logger), nil
	}
	doc, err := s.deps.Store.LoadABI(c.Request.Context(), address)
	if err != nil {
		return nil, err
	}
	reg, err := abi.FromJSON(doc)
	if err != nil {
		return nil, err
	}
	s.registries.Add(address, reg)
	return contract.New(address, reg, s.deps.Channel, s.logger), nil
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"service":   "contractkit-api",
	})
}

// getErrors 错误统计
func (s *Server) getErrors(c *gin.Context) {
	c.JSON(http.StatusOK, s.errorHandler.GetStats())
}

// clearErrors 清空错误统计
func (s *Server) clearErrors(c *gin.Context) {
	s.errorHandler.ClearStats()
	c.JSON(http.StatusOK, gin.H{"message": "错误统计已清空"})
}

// getNodes 获取节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.deps.Nodes == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": []gin.H{}, "message": "未使用节点连接池"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Nodes.GetStats())
}
