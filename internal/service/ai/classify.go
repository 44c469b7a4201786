package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrProviderThrottled 表示提供方限流。
	ErrProviderThrottled = errors.New("ai provider throttled")
	// ErrProviderAuthFailed 表示提供方拒绝了我们的凭证。
	ErrProviderAuthFailed = errors.New("ai provider rejected credentials")
	// ErrProviderUnavailable 表示其他所有提供方故障。
	ErrProviderUnavailable = errors.New("ai provider unavailable")
)

// rateMention 只匹配独立的 rate 单词，避免 "generate" 之类的误判。
var rateMention = regexp.MustCompile(`\brate\b|rate[ _-]?limit|too many requests|resource_exhausted`)

type statusCoder interface {
	StatusCode() int
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify 把重试耗尽后的错误归类为 ErrProviderThrottled、ErrProviderAuthFailed
// 或 ErrProviderUnavailable。返回的错误同时包裹分类与原始错误。
// 调用方主动取消（context.Canceled）不做归类，原样返回。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrProviderThrottled) || errors.Is(err, ErrProviderAuthFailed) || errors.Is(err, ErrProviderUnavailable) {
		return err
	}

	return fmt.Errorf("%w: %w", classify(err), err)
}

func classify(err error) error {
	if code := statusOf(err); code != 0 {
		switch {
		case code == http.StatusTooManyRequests:
			return ErrProviderThrottled
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ErrProviderAuthFailed
		case code >= 400 && code < 500 && mentionsKey(err.Error()):
			return ErrProviderAuthFailed
		default:
			return ErrProviderUnavailable
		}
	}

	// 拿不到结构化状态码时退回到文本匹配。
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "429") || rateMention.MatchString(text):
		return ErrProviderThrottled
	case strings.Contains(text, "403") || mentionsKey(text):
		return ErrProviderAuthFailed
	default:
		return ErrProviderUnavailable
	}
}

func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return apiErr.Code
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	var hc httpStatusCoder
	if errors.As(err, &hc) {
		return hc.HTTPStatusCode()
	}
	return 0
}

func mentionsKey(text string) bool {
	text = strings.ToLower(text)
	return (strings.Contains(text, "invalid") && strings.Contains(text, "key")) || strings.Contains(text, "api key")
}
