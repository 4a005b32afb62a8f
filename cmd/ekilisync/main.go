package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ekilie/ekilisync/internal/api"
	"github.com/ekilie/ekilisync/internal/config"
	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/ekilie/ekilisync/internal/service"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const usage = `usage: ekilisync [-config file] <command> [flags]

commands:
  status                                  show the local session
  onboard                                 mark onboarding as complete
  register -name N -email E -password P   create an account
  resend -email E                         resend the verification code
  verify -email E -otp CODE               verify an account
  login -email E -password P              sign in
  logout                                  sign out
  whoami                                  fetch the signed-in account
  profile -name N                         update the signed-in account
  forgot -email E                         request a password reset code
  verify-reset -email E -otp CODE         check a password reset code
  reset -email E -otp CODE -password P    set a new password
  posts [-limit N] [-sort S] [-search Q]  list posts
  post -text T [-audio URL]               create a post
  like -id ID                             like a post
`

// logNavigator reports route changes on stderr.
type logNavigator struct {
	logger *logrus.Logger
}

func (n logNavigator) Replace(route string) {
	n.logger.WithField("route", route).Info("Navigate")
}

type app struct {
	client  *api.Client
	session *service.SessionService
	logger  *logrus.Logger
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}

	code := 0
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(os.Stderr, verr.Message)
			code = 2
		} else {
			fmt.Fprintln(os.Stderr, err.Error())
			code = 1
		}
	}

	if err := closeApp(); err != nil {
		logger.WithError(err).Warn("Failed to close storage")
	}
	stop()
	os.Exit(code)
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, func() error, error) {
	store, closeStore, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	tokens := repository.NewTokenRepository(store, cfg.Client.Namespace, logger)
	validator := service.NewTokenValidator()
	navigator := logNavigator{logger: logger}

	refreshURL, err := api.ResolveURL(cfg.Client.BaseURL, api.RefreshPath)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	anon := &http.Client{Timeout: cfg.Client.Timeout}
	refresher := service.NewTokenRefresher(tokens, validator, anon, refreshURL, logger)

	transport := middleware.NewAuthTransport(http.DefaultTransport, tokens, refresher, validator, logger)
	transport.OnSessionExpired = func() { navigator.Replace(service.RouteLogin) }
	authed := &http.Client{Timeout: cfg.Client.Timeout, Transport: transport}

	client, err := api.NewClient(cfg.Client.BaseURL, anon, authed, logger)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	session := service.NewSessionService(client, tokens, navigator, logger)
	if err := session.Initialize(ctx); err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	return &app{client: client, session: session, logger: logger}, closeStore, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("EKILI_PASSWORD"), "account password (or EKILI_PASSWORD)")
	confirm := fs.String("confirm", "", "password confirmation (defaults to -password)")
	otp := fs.String("otp", "", "emailed code")
	text := fs.String("text", "", "post text")
	audio := fs.String("audio", "", "audio URL")
	id := fs.String("id", "", "post id")
	limit := fs.Int("limit", 20, "page size")
	sortBy := fs.String("sort", "", "sort order: newest, oldest, popular")
	search := fs.String("search", "", "text search")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *confirm == "" {
		*confirm = *password
	}

	switch command {
	case "status":
		st := a.session.State()
		return printJSON(map[string]interface{}{
			"phase":         st.Phase().String(),
			"authenticated": st.IsAuthenticated,
			"onboarding":    st.Onboarding.String(),
			"user":          st.User,
		})

	case "onboard":
		return a.session.CompleteOnboarding(ctx)

	case "register":
		return a.session.SignUp(ctx, models.RegisterRequest{
			Name:            *name,
			Email:           *email,
			Password:        *password,
			ConfirmPassword: *confirm,
		})

	case "resend":
		return a.session.SendVerificationEmail(ctx, *email)

	case "verify":
		return a.session.VerifyAccount(ctx, models.VerifyOTPRequest{Email: *email, OTP: *otp})

	case "login":
		return a.session.SignIn(ctx, models.LoginRequest{Email: *email, Password: *password})

	case "logout":
		return a.session.SignOut(ctx)

	case "whoami":
		user, err := a.client.GetCurrentUser(ctx)
		if err != nil {
			return err
		}
		return printJSON(user)

	case "profile":
		if err := a.session.UpdateProfile(ctx, models.UpdateUserRequest{Name: *name}); err != nil {
			return err
		}
		return printJSON(a.session.State().User)

	case "forgot":
		return a.session.ForgotPassword(ctx, *email)

	case "verify-reset":
		return a.session.VerifyResetCode(ctx, models.VerifyResetCodeRequest{Email: *email, OTP: *otp})

	case "reset":
		return a.session.ResetPassword(ctx, models.ResetPasswordRequest{
			Email:           *email,
			OTP:             *otp,
			NewPassword:     *password,
			ConfirmPassword: *confirm,
		})

	case "posts":
		posts, err := a.client.GetPosts(ctx, models.ListPostsParams{Limit: *limit, Sort: *sortBy, Search: *search})
		if err != nil {
			return err
		}
		return printJSON(posts)

	case "post":
		post, err := a.client.CreatePost(ctx, models.CreatePostRequest{Text: *text, AudioURL: *audio})
		if err != nil {
			return err
		}
		return printJSON(post)

	case "like":
		return a.client.LikePost(ctx, *id)
	}

	return fmt.Errorf("unknown command %q", command)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
