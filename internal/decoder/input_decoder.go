package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"contractkit/internal/abi"
	"contractkit/internal/codec"
	"contractkit/internal/config"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/retry"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

// 解码结果来源
const (
	SourceRegistry = "registry"
	SourceBuiltin  = "builtin"
	SourceFourByte = "4byte"
)

// commonMethods 常见方法签名
var commonMethods = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x8f32d59b": "isOwner()",
	"0xd0e30db0": "deposit()",
	"0x2e1a7d4d": "withdraw(uint256)",
}

// FourByteResponse 4byte.directory API响应
type FourByteResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  []signature `json:"results"`
}

type signature struct {
	ID             int    `json:"id"`
	CreatedAt      string `json:"created_at"`
	TextSignature  string `json:"text_signature"`
	HexSignature   string `json:"hex_signature"`
	BytesSignature string `json:"bytes_signature"`
}

// Option 解码器选项
type Option func(*InputDecoder)

// WithHTTPClient 替换访问4byte接口的HTTP客户端
func WithHTTPClient(c *http.Client) Option {
	return func(d *InputDecoder) { d.client = c }
}

// WithRetryConfig 替换4byte接口的重试配置
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(d *InputDecoder) { d.retryConfig = cfg }
}

// InputDecoder 调用数据解码器：先查ABI，再查常见方法表，最后查4byte.directory
type InputDecoder struct {
	logger      *logrus.Logger
	config      *config.DecoderConfig
	registry    *abi.Registry
	cache       *lru.Cache // 选择器 -> []string 文本签名
	client      *http.Client
	retryConfig *retry.RetryConfig
}

// NewInputDecoder 创建输入解码器，registry可为nil
func NewInputDecoder(logger *logrus.Logger, decoderConfig *config.DecoderConfig, registry *abi.Registry, opts ...Option) (*InputDecoder, error) {
	logger = logging.OrDiscard(logger)
	if decoderConfig == nil {
		decoderConfig = config.GetDefaultConfig().Decoder
	}

	timeout, err := decoderConfig.Timeout()
	if err != nil {
		return nil, err
	}

	d := &InputDecoder{
		logger:      logger,
		config:      decoderConfig,
		registry:    registry,
		client:      &http.Client{Timeout: timeout},
		retryConfig: retry.NetworkRetryConfig,
	}

	if decoderConfig.EnableCache {
		size := decoderConfig.CacheSize
		if size <= 0 {
			size = 10000
		}
		cache, err := lru.New(size)
		if err != nil {
			return nil, fmt.Errorf("创建签名缓存失败: %w", err)
		}
		d.cache = cache
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DecodeHex 解码0x前缀的调用数据
func (d *InputDecoder) DecodeHex(ctx context.Context, input string) (*models.DecodedCall, error) {
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		input = "0x" + input
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return nil, errors.Decode("INVALID_HEX", "调用数据不是合法的十六进制: %v", err)
	}
	return d.Decode(ctx, data)
}

// Decode 解码交易输入数据
func (d *InputDecoder) Decode(ctx context.Context, data []byte) (*models.DecodedCall, error) {
	sel, ok := abi.SelectorFromBytes(data)
	if !ok {
		return nil, errors.Decode("SHORT_CALLDATA", "调用数据不足4字节")
	}

	if d.registry != nil {
		if fn, found := d.registry.FunctionBySelector(sel); found {
			return decodeWith(fn, data, SourceRegistry)
		}
	}

	if text, found := commonMethods[sel.Hex()]; found {
		if call, err := d.tryText(text, data, SourceBuiltin); err == nil {
			return call, nil
		}
	}

	if d.config.EnableAPI {
		texts, err := d.lookup(ctx, sel)
		if err != nil {
			return nil, err
		}
		for _, text := range texts {
			if call, err := d.tryText(text, data, SourceFourByte); err == nil {
				return call, nil
			}
		}
	}

	return nil, errors.NotFound("UNKNOWN_SELECTOR", "无法识别的方法选择器: %s", sel.Hex()).
		WithContext("selector", sel.Hex())
}

// tryText 解析文本签名并尝试解码，签名碰撞时由调用方换下一个
func (d *InputDecoder) tryText(text string, data []byte, source string) (*models.DecodedCall, error) {
	fn, err := abi.ParseSignature(text)
	if err != nil {
		d.logger.Debugf("跳过无法解析的签名 %q: %v", text, err)
		return nil, err
	}
	return decodeWith(fn, data, source)
}

func decodeWith(fn *abi.Function, data []byte, source string) (*models.DecodedCall, error) {
	values, err := codec.DecodeCall(fn, data)
	if err != nil {
		return nil, err
	}
	return &models.DecodedCall{
		Selector:  fn.Selector().Hex(),
		Method:    fn.Name,
		Signature: fn.Signature(),
		Source:    source,
		Args:      codec.FormatValues(fn.Inputs, values),
	}, nil
}

// lookup 先查缓存，再请求4byte.directory
func (d *InputDecoder) lookup(ctx context.Context, sel abi.Selector) ([]string, error) {
	key := sel.Hex()
	if d.cache != nil {
		if v, ok := d.cache.Get(key); ok {
			return v.([]string), nil
		}
	}

	retrier := retry.NewRetrier(d.retryConfig, d.logger)
	var texts []string
	err := retrier.Execute(ctx, "fourbyte_lookup", func() error {
		var err error
		texts, err = d.fetchFromFourByteDirectory(ctx, key)
		return err
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeExternalAPI, errors.SeverityLow, "FOURBYTE_API_FAILED",
			"4byte.directory API调用失败").WithContext("selector", key)
	}

	if d.cache != nil {
		d.cache.Add(key, texts)
	}
	return texts, nil
}

// fetchFromFourByteDirectory 从4byte.directory API获取方法签名，按ID升序
func (d *InputDecoder) fetchFromFourByteDirectory(ctx context.Context, hexSig string) ([]string, error) {
	url := fmt.Sprintf("%s?hex_signature=%s", d.config.FourByteAPIURL, hexSig)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.NewRetryableError(err, false)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("4byte.directory API返回错误状态: %d", resp.StatusCode)
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry.NewRetryableError(err, retryable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取4byte.directory响应失败: %w", err)
	}

	var response FourByteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, retry.NewRetryableError(fmt.Errorf("解析4byte.directory响应失败: %w", err), false)
	}

	results := response.Results
	// 最早登记的签名最可能是真实签名
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].ID < results[j-1].ID; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.TextSignature)
	}
	return texts, nil
}

// ClearCache 清理缓存
func (d *InputDecoder) ClearCache() {
	if d.cache != nil {
		d.cache.Purge()
	}
}

// GetCacheSize 获取缓存大小
func (d *InputDecoder) GetCacheSize() int {
	if d.cache == nil {
		return 0
	}
	return d.cache.Len()
}

// GetConfig 获取解码器配置
func (d *InputDecoder) GetConfig() *config.DecoderConfig {
	return d.config
}
