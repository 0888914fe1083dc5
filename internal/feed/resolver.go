package feed

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/maven"
)

// ErrArtifactNotFound 表示所有候选打包后缀在远端都不存在。
var ErrArtifactNotFound = errors.New("artifact not found on feed")

// Resolver 通过并发 HEAD 探测确定远端仓库实际提供哪种打包后缀。
type Resolver struct {
	client     *http.Client
	codec      maven.Codec
	logger     *logrus.Logger
	packagings []string
}

// NewResolver 构造解析器，候选后缀默认取 maven.DefaultPackagings。
func NewResolver(client *http.Client, codec maven.Codec, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		client:     client,
		codec:      codec,
		logger:     logger,
		packagings: maven.DefaultPackagings,
	}
}

type probeResult struct {
	coord maven.Coordinate
	ok    bool
}

// Resolve 对每个候选后缀并发发起一次 HEAD 探测，第一个 2xx 响应即胜出，
// 其余在途探测通过 context 取消。传输错误按"该候选不存在"处理。
//
// 候选列表只保证按优先级顺序提交；当远端同时存在多个打包变体时，
// 哪个胜出取决于响应先后，跨运行不保证可复现。需要确定性的调用方
// 应当把候选集收窄到唯一期望的后缀。
func (r *Resolver) Resolve(ctx context.Context, coord maven.Coordinate, loc Location) (maven.Coordinate, error) {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan probeResult, len(r.packagings))
	for _, ext := range r.packagings {
		candidate := coord.WithPackaging(ext)
		go func() {
			results <- probeResult{coord: candidate, ok: r.probe(probeCtx, candidate, loc)}
		}()
	}

	for range r.packagings {
		result := <-results
		if result.ok {
			cancel()
			return result.coord, nil
		}
	}
	return maven.Coordinate{}, ErrArtifactNotFound
}

// probe 发出一次轻量存在性检查，不传输正文。
func (r *Resolver) probe(ctx context.Context, coord maven.Coordinate, loc Location) bool {
	target := loc.ResolveURL(r.codec.RemotePath(coord))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), http.NoBody)
	if err != nil {
		return false
	}
	if auth := loc.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// 传输失败只意味着该候选不可用，不应终止整个解析。
		r.logger.WithFields(logrus.Fields{
			"action":    "probe",
			"feed":      loc.Name,
			"packaging": coord.Packaging,
			"url":       target.String(),
		}).Debug(err.Error())
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
