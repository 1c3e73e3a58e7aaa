package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/models"
)

// Client 逆地理编码客户端（Nominatim / OpenStreetMap）
// 行程起止点的地址解析是 best-effort，失败只影响展示
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// 缓存：避免重复请求相同坐标
	cache   map[string]*models.Address
	cacheMu sync.RWMutex

	// Nominatim 请求限流（每秒最多 1 次）
	lastRequest time.Time
	requestMu   sync.Mutex
}

// NewClient 创建逆地理编码客户端
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		baseURL: "https://nominatim.openstreetmap.org",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		cache:  make(map[string]*models.Address),
	}
}

// SetBaseURL 设置自定义地址（用于测试）
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// ReverseGeocode 逆地理编码：根据经纬度获取结构化地址
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 缓存 key 精确到小数点后 4 位，约 11 米精度
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	if addr, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return addr, nil
	}
	c.cacheMu.RUnlock()

	address, err := c.reverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[cacheKey] = address
	// 限制缓存大小
	if len(c.cache) > 10000 {
		c.cache = make(map[string]*models.Address)
		c.cache[cacheKey] = address
	}
	c.cacheMu.Unlock()

	return address, nil
}

// nominatimResponse Nominatim 逆地理编码响应
type nominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
}

func (c *Client) reverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// Nominatim 限流：每秒最多 1 次请求
	c.requestMu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	c.lastRequest = time.Now()
	c.requestMu.Unlock()

	apiURL := fmt.Sprintf(
		"%s/reverse?lat=%.6f&lon=%.6f&format=json",
		c.baseURL, lat, lng,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Nominatim 要求设置 User-Agent
	req.Header.Set("User-Agent", "Drivertrack/1.0 (trip telemetry agent)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim api returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Nominatim 的城市字段可能在 city/town/village 中
	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}

	address := &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		Province:         result.Address.State,
		City:             city,
		District:         result.Address.County,
		Street:           result.Address.Road,
		StreetNumber:     result.Address.HouseNumber,
	}

	c.logger.Debug("Geocoded via Nominatim",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", address.FormattedAddress))

	return address, nil
}
