package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	defaultTimeout = 30 * time.Second
	// confirmation target used to pick the fee estimate
	feeTarget = "6"
)

type esploraTxStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type esploraBlock struct {
	Id         string `json:"id"`
	Height     int64  `json:"height"`
	Timestamp  int64  `json:"timestamp"`
	MedianTime int64  `json:"mediantime"`
}

type service struct {
	url    string
	client *http.Client
}

func NewService(esploraUrl string) (ports.ChainClient, error) {
	if len(esploraUrl) <= 0 {
		return nil, fmt.Errorf("missing esplora url")
	}
	if _, err := url.Parse(esploraUrl); err != nil {
		return nil, fmt.Errorf("invalid esplora url: %s", err)
	}
	return &service{
		url:    esploraUrl,
		client: &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	resp, err := s.do(ctx, http.MethodPost, strings.NewReader(txHex), "tx")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %s", ports.ErrChainUnavailable, resp.Status)
		}
		return "", fmt.Errorf("failed to broadcast transaction: %s (%s)", resp.Status, content)
	}
	return strings.TrimSpace(string(content)), nil
}

func (s *service) GetConfirmationStatus(ctx context.Context, txid string) (int64, error) {
	resp, err := s.do(ctx, http.MethodGet, nil, "tx", txid, "status")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ports.ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: tx status endpoint %s", ports.ErrChainUnavailable, resp.Status)
	}

	var status esploraTxStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return 0, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}
	if !status.Confirmed {
		return 0, nil
	}

	tip, err := s.getTipHeight(ctx)
	if err != nil {
		return 0, err
	}
	return tip - status.BlockHeight + 1, nil
}

// GetCurrentTime returns the median time past of the chain tip, the
// reference for timestamp based locktimes.
func (s *service) GetCurrentTime(ctx context.Context) (time.Time, error) {
	resp, err := s.do(ctx, http.MethodGet, nil, "blocks", "tip", "hash")
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("%w: tip hash endpoint %s", ports.ErrChainUnavailable, resp.Status)
	}
	hash, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}

	blockResp, err := s.do(ctx, http.MethodGet, nil, "block", strings.TrimSpace(string(hash)))
	if err != nil {
		return time.Time{}, err
	}
	defer blockResp.Body.Close()

	if blockResp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("%w: block endpoint %s", ports.ErrChainUnavailable, blockResp.Status)
	}
	var block esploraBlock
	if err := json.NewDecoder(blockResp.Body).Decode(&block); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}

	timestamp := block.MedianTime
	if timestamp <= 0 {
		timestamp = block.Timestamp
	}
	return time.Unix(timestamp, 0), nil
}

func (s *service) GetFeeRate(ctx context.Context) (chainfee.SatPerKVByte, error) {
	resp, err := s.do(ctx, http.MethodGet, nil, "fee-estimates")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: fee-estimates endpoint %s", ports.ErrChainUnavailable, resp.Status)
	}

	response := make(map[string]float64)
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}

	satPerVByte, ok := response[feeTarget]
	if !ok || satPerVByte <= 0 {
		return chainfee.SatPerKVByte(txrules.DefaultRelayFeePerKb), nil
	}
	feeRate := chainfee.SatPerKVByte(satPerVByte * 1000)
	if feeRate < chainfee.SatPerKVByte(txrules.DefaultRelayFeePerKb) {
		return chainfee.SatPerKVByte(txrules.DefaultRelayFeePerKb), nil
	}
	return feeRate, nil
}

func (s *service) getTipHeight(ctx context.Context) (int64, error) {
	resp, err := s.do(ctx, http.MethodGet, nil, "blocks", "tip", "height")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: tip height endpoint %s", ports.ErrChainUnavailable, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid tip height: %s", ports.ErrChainUnavailable, err)
	}
	return height, nil
}

func (s *service) do(
	ctx context.Context, method string, body io.Reader, path ...string,
) (*http.Response, error) {
	endpoint, err := url.JoinPath(s.url, path...)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrChainUnavailable, err)
	}
	return resp, nil
}
