package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/go-chi/chi"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/openshift/directory-gateway/pkg/authorize"
	"github.com/openshift/directory-gateway/pkg/authorize/jwt"
	"github.com/openshift/directory-gateway/pkg/cache"
	"github.com/openshift/directory-gateway/pkg/cache/memcached"
	"github.com/openshift/directory-gateway/pkg/credentials"
	"github.com/openshift/directory-gateway/pkg/gateway"
	gatewayhttp "github.com/openshift/directory-gateway/pkg/http"
	"github.com/openshift/directory-gateway/pkg/logger"
	"github.com/openshift/directory-gateway/pkg/server"
	"github.com/openshift/directory-gateway/pkg/session"
	"github.com/openshift/directory-gateway/pkg/tracing"
	"github.com/openshift/directory-gateway/pkg/upstream"
)

const desc = `
Gateway in front of a user directory and a random image service. Clients log
in with a username and password and use the returned bearer token for the
protected routes. The user directory is cached for a fixed time.
`

const (
	defaultSecretKey = "your-secret-key-change-in-production"
	envPrefix        = "GATEWAY"
)

func defaultOpts() *Options {
	return &Options{
		SecretKey:           defaultSecretKey,
		TokenExpiration:     30 * time.Minute,
		CacheTTL:            300 * time.Second,
		UsersURL:            "https://jsonplaceholder.typicode.com/users",
		DogURL:              "https://dog.ceo/api/breeds/image/random",
		DogFallbackURL:      gateway.DefaultDogFallbackURL,
		RequestTimeout:      10 * time.Second,
		UserAgent:           "RefactorMe/1.0",
		MemcachedTimeout:    200 * time.Millisecond,
		LogLevel:            "info",
		LogFormat:           logger.FormatLogfmt,
		TracingEndpointType: string(tracing.EndpointTypeAgent),
	}
}

func main() {
	opt := defaultOpts()

	var (
		listen, listenInternal string
		configFile             string
		showVersion            bool
		tokenExpireMinutes     = int(opt.TokenExpiration / time.Minute)
		cacheTTLSeconds        = int(opt.CacheTTL / time.Second)
		requestTimeoutSeconds  = int(opt.RequestTimeout / time.Second)
	)
	cmd := &cobra.Command{
		Use:           "directory-gateway",
		Short:         "Authenticating gateway with a cached view of an upstream user directory.",
		Long:          desc,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindEnvAndConfig(cmd.Flags(), configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version.Print("directory-gateway"))
				return nil
			}

			opt.TokenExpiration = time.Duration(tokenExpireMinutes) * time.Minute
			opt.CacheTTL = time.Duration(cacheTTLSeconds) * time.Second
			opt.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

			opt.Logger = logger.New(os.Stderr, opt.LogFormat, opt.LogLevel)
			stdlog.SetOutput(log.NewStdlibAdapter(opt.Logger))

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			internalListener, err := net.Listen("tcp", listenInternal)
			if err != nil {
				listener.Close()
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return opt.Run(ctx, listener, internalListener)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8000", "A host:port to listen on for API traffic.")
	cmd.Flags().StringVar(&listenInternal, "listen-internal", "localhost:8001", "A host:port to listen on for health and metrics.")
	cmd.Flags().StringVar(&configFile, "config", "", "A YAML or JSON file providing values for any of the flags, keyed by flag name.")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print version information and exit.")

	cmd.Flags().StringVar(&opt.SecretKey, "secret-key", opt.SecretKey, "The secret used to sign and verify bearer tokens.")
	cmd.Flags().IntVar(&tokenExpireMinutes, "token-expire-minutes", tokenExpireMinutes, "The lifetime of issued tokens in minutes.")
	cmd.Flags().IntVar(&cacheTTLSeconds, "cache-ttl-seconds", cacheTTLSeconds, "How long the user directory is served from cache, in seconds.")
	cmd.Flags().IntVar(&requestTimeoutSeconds, "request-timeout-seconds", requestTimeoutSeconds, "The timeout of upstream requests in seconds.")

	cmd.Flags().StringVar(&opt.UsersURL, "users-url", opt.UsersURL, "The URL of the upstream user directory.")
	cmd.Flags().StringVar(&opt.DogURL, "dog-url", opt.DogURL, "The URL of the random dog image service.")
	cmd.Flags().StringVar(&opt.DogFallbackURL, "dog-fallback-url", opt.DogFallbackURL, "The image returned when the image service fails.")
	cmd.Flags().StringVar(&opt.UserAgent, "user-agent", opt.UserAgent, "The User-Agent sent to upstream services.")

	cmd.Flags().StringArrayVar(&opt.UserFlag, "user", opt.UserFlag, "A user allowed to log in, in name=password form. May be repeated.")
	cmd.Flags().StringVar(&opt.UsersFile, "users-file", opt.UsersFile, "A JSON, JSONC or YAML file with a list of {username, password} records.")
	cmd.Flags().DurationVar(&opt.LoginRatelimit, "login-ratelimit", opt.LoginRatelimit, "The minimum interval between login attempts per username. 0 disables the limit.")

	cmd.Flags().StringSliceVar(&opt.Memcacheds, "memcached", opt.Memcacheds, "One or more Memcached server addresses sharing the cached user directory between replicas.")
	cmd.Flags().DurationVar(&opt.MemcachedTimeout, "memcached-timeout", opt.MemcachedTimeout, "The socket read/write timeout of Memcached requests.")

	cmd.Flags().StringVar(&opt.OIDCIssuer, "oidc-issuer", opt.OIDCIssuer, "The OIDC issuer URL used to authenticate requests to the user directory, see https://openid.net/specs/openid-connect-discovery-1_0.html#IssuerDiscovery.")
	cmd.Flags().StringVar(&opt.OIDCClientSecret, "client-secret", opt.OIDCClientSecret, "The OIDC client secret, see https://tools.ietf.org/html/rfc6749#section-2.3.")
	cmd.Flags().StringVar(&opt.OIDCClientID, "client-id", opt.OIDCClientID, "The OIDC client ID, see https://tools.ietf.org/html/rfc6749#section-2.3.")
	cmd.Flags().StringVar(&opt.OIDCAudienceEndpoint, "oidc-audience", opt.OIDCAudienceEndpoint, "The OIDC audience some providers like Auth0 need.")

	cmd.Flags().StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log filtering level. e.g info, debug, warn, error")
	cmd.Flags().StringVar(&opt.LogFormat, "log-format", opt.LogFormat, "Log format, logfmt or json.")

	cmd.Flags().StringVar(&opt.TracingServiceName, "internal.tracing.service-name", "directory-gateway",
		"The service name to report to the tracing backend.")
	cmd.Flags().StringVar(&opt.TracingEndpoint, "internal.tracing.endpoint", "",
		"The full URL of the trace collector. If it's not set, tracing will be disabled.")
	cmd.Flags().Float64Var(&opt.TracingSamplingFraction, "internal.tracing.sampling-fraction", 0.1,
		"The fraction of traces to sample. Thus, if you set this to .5, half of traces will be sampled.")
	cmd.Flags().StringVar(&opt.TracingEndpointType, "internal.tracing.endpoint-type", opt.TracingEndpointType,
		fmt.Sprintf("The tracing endpoint type. Options: '%s', '%s', '%s'.", tracing.EndpointTypeAgent, tracing.EndpointTypeCollector, tracing.EndpointTypeOTel))

	if err := cmd.Execute(); err != nil {
		l := logger.New(os.Stderr, logger.FormatLogfmt, "error")
		level.Error(l).Log("err", err)
		os.Exit(1)
	}
}

// bindEnvAndConfig fills every flag that was not given on the command line
// from a GATEWAY_* environment variable or, failing that, from configFile.
func bindEnvAndConfig(flags *pflag.FlagSet, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	var errs []string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}

		var err error
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = sv.Replace(v.GetStringSlice(f.Name))
		} else {
			err = flags.Set(f.Name, v.GetString(f.Name))
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("--%s: %v", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

type Options struct {
	SecretKey       string
	TokenExpiration time.Duration
	CacheTTL        time.Duration

	UsersURL       string
	DogURL         string
	DogFallbackURL string
	RequestTimeout time.Duration
	UserAgent      string

	UserFlag       []string
	UsersFile      string
	LoginRatelimit time.Duration

	Memcacheds       []string
	MemcachedTimeout time.Duration

	OIDCIssuer           string
	OIDCClientID         string
	OIDCClientSecret     string
	OIDCAudienceEndpoint string

	LogLevel  string
	LogFormat string
	Logger    log.Logger

	TracingServiceName      string
	TracingEndpoint         string
	TracingEndpointType     string
	TracingSamplingFraction float64
}

func (o *Options) credentialStore() (credentials.Store, int, error) {
	creds, err := credentials.ParseFlags(o.UserFlag)
	if err != nil {
		return nil, 0, err
	}

	if o.UsersFile != "" {
		fromFile, err := credentials.Load(o.UsersFile)
		if err != nil {
			return nil, 0, err
		}
		creds = append(creds, fromFile...)
	}

	return credentials.NewMemoryStore(creds...), len(creds), nil
}

func (o *Options) Run(ctx context.Context, externalListener, internalListener net.Listener) error {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	if len(o.SecretKey) == 0 {
		return errors.New("--secret-key must not be empty")
	}
	if o.SecretKey == defaultSecretKey {
		level.Warn(o.Logger).Log("msg", "using the built-in token signing secret; set --secret-key in production")
	}
	if o.TokenExpiration <= 0 || o.CacheTTL <= 0 || o.RequestTimeout <= 0 {
		return errors.New("token expiration, cache TTL and request timeout must be positive")
	}

	store, n, err := o.credentialStore()
	if err != nil {
		return err
	}
	if n == 0 {
		level.Warn(o.Logger).Log("msg", "no users configured; every login will be rejected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		version.NewCollector("directory_gateway"),
	)

	tp, shutdownTracer, err := tracing.InitTracer(ctx, o.Logger, tracing.Config{
		ServiceName:      o.TracingServiceName,
		Endpoint:         o.TracingEndpoint,
		EndpointType:     tracing.EndpointType(o.TracingEndpointType),
		SamplingFraction: o.TracingSamplingFraction,
	})
	if err != nil {
		return fmt.Errorf("cannot initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			level.Warn(o.Logger).Log("msg", "failed to shut down tracer", "err", err)
		}
	}()

	instrumented := gatewayhttp.NewInstrumentedRoundTripper(reg)
	baseTransport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: o.RequestTimeout}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	var transport http.RoundTripper = otelhttp.NewTransport(baseTransport, otelhttp.WithTracerProvider(tp))
	transport = gatewayhttp.NewUserAgentRoundTripper(o.UserAgent, transport)

	usersClient := &http.Client{
		Timeout:   o.RequestTimeout,
		Transport: instrumented.NewRoundTripper("users", transport),
	}
	imageClient := &http.Client{
		Timeout:   o.RequestTimeout,
		Transport: instrumented.NewRoundTripper("dog", transport),
	}

	if o.OIDCIssuer != "" {
		oauthClient := &http.Client{
			Timeout:   o.RequestTimeout,
			Transport: instrumented.NewRoundTripper("oauth", transport),
		}
		octx := context.WithValue(ctx, oauth2.HTTPClient, oauthClient)

		provider, err := oidc.NewProvider(octx, o.OIDCIssuer)
		if err != nil {
			return fmt.Errorf("OIDC provider initialization failed: %v", err)
		}

		cfg := clientcredentials.Config{
			ClientID:     o.OIDCClientID,
			ClientSecret: o.OIDCClientSecret,
			TokenURL:     provider.Endpoint().TokenURL,
		}
		if o.OIDCAudienceEndpoint != "" {
			cfg.EndpointParams = url.Values{"audience": []string{o.OIDCAudienceEndpoint}}
		}

		usersClient.Transport = &oauth2.Transport{
			Base:   usersClient.Transport,
			Source: cfg.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, oauthClient)),
		}
	}

	// Each client only knows its own endpoint.
	usersUpstream := upstream.New(o.Logger, usersClient, o.UsersURL, "")
	imageUpstream := upstream.New(o.Logger, imageClient, "", o.DogURL)

	cacheOpts := []cache.Option{
		cache.WithFetchTimeout(o.RequestTimeout),
		cache.WithLogger(o.Logger),
		cache.WithRegisterer(reg),
	}
	if len(o.Memcacheds) > 0 {
		cacheOpts = append(cacheOpts, cache.WithShared(memcached.New(envPrefix, o.CacheTTL, o.MemcachedTimeout, o.Memcacheds...)))
	}
	users := cache.NewTTL[[]upstream.User]("users", o.CacheTTL, usersUpstream.FetchUsers, cacheOpts...)

	signer, authz := jwt.New(jwt.DefaultIssuer, []byte(o.SecretKey), o.TokenExpiration)
	auth := authorize.NewAuthenticator(o.Logger, authz, store)

	svc := gateway.New(auth, signer, users, imageUpstream, session.New(),
		gateway.WithDogFallbackURL(o.DogFallbackURL),
		gateway.WithLoginRateLimit(o.LoginRatelimit),
		gateway.WithLogger(o.Logger),
	)

	var g run.Group
	{
		internal := http.NewServeMux()

		gatewayhttp.DebugRoutes(internal)
		gatewayhttp.MetricRoutes(internal, reg)
		gatewayhttp.HealthRoutes(internal)

		r := chi.NewRouter()
		r.Mount("/", internal)

		internalPathJSON, _ := json.MarshalIndent(server.Paths{Paths: []string{"/", "/metrics", "/debug/pprof", "/healthz", "/healthz/ready"}}, "", "  ")
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Add("Content-Type", "application/json")
			if _, err := w.Write(internalPathJSON); err != nil {
				level.Error(o.Logger).Log("msg", "could not write internal paths", "err", err)
			}
		})

		s := &http.Server{
			Handler: otelhttp.NewHandler(r, "internal", otelhttp.WithTracerProvider(tp)),
		}

		// Run the internal server.
		g.Add(func() error {
			if err := s.Serve(internalListener); err != nil && err != http.ErrServerClosed {
				level.Error(o.Logger).Log("msg", "internal HTTP server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			internalListener.Close()
		})
	}
	{
		handler := server.New(o.Logger, server.NewInstrumenter(reg), auth, svc)
		s := &http.Server{
			Handler:           otelhttp.NewHandler(handler, "external", otelhttp.WithTracerProvider(tp)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Run the external server.
		g.Add(func() error {
			if err := s.Serve(externalListener); err != nil && err != http.ErrServerClosed {
				level.Error(o.Logger).Log("msg", "external HTTP server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			externalListener.Close()

			// Close clients in order to check for leaks properly.
			baseTransport.CloseIdleConnections()
		})
	}

	// Kill all when caller requests to.
	gctx, gcancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-gctx.Done()
		return gctx.Err()
	}, func(err error) {
		gcancel()
	})

	level.Info(o.Logger).Log("msg", "starting directory-gateway", "version", version.Version, "external", externalListener.Addr().String(), "internal", internalListener.Addr().String())

	if err := g.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
