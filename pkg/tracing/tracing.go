package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Enabled     bool
	ServiceName string
	Host        string
	Port        int
	// SampleRate в (0, 1): вероятностный сэмплер, иначе пишем каждый спан.
	SampleRate float64
}

// InitTracer ставит глобальный jaeger-трейсер. При Enabled=false остаётся
// no-op трейсер opentracing, closer ничего не делает.
func InitTracer(conf Config, log *zap.Logger) (opentracing.Tracer, func(), error) {
	if !conf.Enabled {
		return opentracing.GlobalTracer(), func() {}, nil
	}
	cfg := &jCfg.Configuration{
		ServiceName: conf.ServiceName,
		Sampler:     sampler(conf.SampleRate),
		Reporter: &jCfg.ReporterConfig{
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init jaeger tracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	log.Info("jaeger tracer enabled",
		zap.String("agent", cfg.Reporter.LocalAgentHostPort),
		zap.String("sampler", cfg.Sampler.Type))
	return tracer, func() {
		if err := closer.Close(); err != nil {
			log.Error("close jaeger tracer", zap.Error(err))
		}
	}, nil
}

func sampler(rate float64) *jCfg.SamplerConfig {
	if rate > 0 && rate < 1 {
		return &jCfg.SamplerConfig{Type: "probabilistic", Param: rate}
	}
	return &jCfg.SamplerConfig{Type: "const", Param: 1}
}

// StartSpan открывает дочерний спан от спана в ctx с набором тегов.
func StartSpan(ctx context.Context, name string, tags ...opentracing.Tag) (opentracing.Span, context.Context) {
	opts := make([]opentracing.StartSpanOption, 0, len(tags))
	for _, t := range tags {
		opts = append(opts, t)
	}
	return opentracing.StartSpanFromContext(ctx, name, opts...)
}

// Finish закрывает спан, помечая его ошибкой, если err != nil.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
	}
	span.Finish()
}
