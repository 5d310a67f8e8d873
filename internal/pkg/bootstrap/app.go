package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bargain/internal/pkg/logger"
	"bargain/internal/pkg/nacos"
	"bargain/internal/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config AppConfig
}

// Worker 是随服务启动的后台任务，ctx 结束时应返回
type Worker func(ctx context.Context) error

// Hooks 由服务在注册路由时返回
type Hooks struct {
	Workers []Worker
	// Ready 用于 /readyz，为空时总是就绪
	Ready func(ctx context.Context) error
	// Shutdown 在 HTTP 服务关闭后按注册的逆序执行
	Shutdown []func(ctx context.Context) error
}

// AppInfo 包含了启动一个服务所需的所有特定信息
type AppInfo struct {
	Config           AppConfig
	RegisterHandlers func(appCtx AppCtx) (Hooks, error)
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号或某个组件失败
func StartService(info AppInfo) error {
	cfg := info.Config
	name := cfg.Service.Name
	if cfg.Log.Service == "" {
		cfg.Log.Service = name
	}
	logger.Init(cfg.Log)
	log := logger.Ctx(context.Background())

	tp, err := tracing.InitTracerProvider(name, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	var naming *nacos.Client
	if cfg.Nacos.Enabled {
		naming, err = nacos.NewClient(cfg.Nacos.Config)
		if err != nil {
			return fmt.Errorf("failed to initialize nacos client: %w", err)
		}
	}

	mux := http.NewServeMux()
	var hooks Hooks
	if info.RegisterHandlers != nil {
		hooks, err = info.RegisterHandlers(AppCtx{Mux: mux, Nacos: naming, Config: cfg})
		if err != nil {
			return fmt.Errorf("failed to set up %s: %w", name, err)
		}
	}
	registerOps(mux, hooks.Ready)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.Service.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info().Str("service", name).Int("port", cfg.Service.Port).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	for _, w := range hooks.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	var ip string
	if naming != nil {
		if ip, err = outboundIP(); err != nil {
			log.Error().Err(err).Msg("failed to get outbound IP address, skipping nacos registration")
		} else if err := naming.RegisterServiceInstance(name, ip, cfg.Service.Port); err != nil {
			log.Error().Err(err).Msg("failed to register service with nacos")
			ip = ""
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", name).Msg("shutting down service")

		timeout := cfg.Service.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// 关停顺序与启动相反
		if naming != nil {
			if ip != "" {
				if err := naming.DeregisterServiceInstance(name, ip, cfg.Service.Port); err != nil {
					log.Error().Err(err).Msg("error deregistering from nacos")
				}
			}
			naming.Close()
		}
		if err := server.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("error shutting down http server")
		}
		for i := len(hooks.Shutdown) - 1; i >= 0; i-- {
			if err := hooks.Shutdown[i](sctx); err != nil {
				log.Error().Err(err).Msg("error during shutdown hook")
			}
		}
		if err := tp.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		log.Error().Err(err).Str("service", name).Msg("service stopped with error")
		return err
	}
	log.Info().Str("service", name).Msg("service gracefully shut down")
	return nil
}

// registerOps 注册健康检查和指标接口
func registerOps(mux *http.ServeMux, ready func(ctx context.Context) error) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("readiness check failed")
				writeStatus(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("GET /metrics", promhttp.Handler())
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// outboundIP 返回本机对外通信使用的地址，不会真正发送数据
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Exit 是 main 的常用收尾
func Exit(err error) {
	if err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}
