package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	adapterlogger "admin-dashboard/internal/adapters/logger"
	"admin-dashboard/internal/application"
	"admin-dashboard/internal/config"
	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/infrastructure/backend"
	"admin-dashboard/internal/infrastructure/spreadsheet"
	"admin-dashboard/internal/infrastructure/storage"
)

const usage = `usage: dashctl [-config file] [-backend url] [-store file] [-v] <command> [flags]

commands:
  login -u USER [-p PASS]      log in (PASS defaults to $DASHBOARD_PASSWORD)
  logout                       forget the stored session
  whoami                       show the stored session
  companies                    list companies
  select-company NAME          set the company used when -company is omitted
  panel -endpoint E [filters]  fetch one analytics panel
  overview [filters]           fetch every permitted panel
  view NAME [filters]          load a dashboard view (email, tasks, history, overview)
  users                        list users
  approve ID | reject ID       change a pending user's status
  delete ID                    delete a user
  create-user -u -e -p [-r]    create a user
  perms ID [-group G] [-domain D] [-save]
                               show or edit a user's permissions
  export -month YYYY-MM [-o FILE]
                               download the Excel export
  reset-verify TOKEN           check a password reset token
  reset-password -token T -p P set a new password

filters: -start YYYY-MM-DD -end YYYY-MM-DD -all -company NAME -domain NAME
`

type cli struct {
	ws  *application.Workspace
	out io.Writer
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".dashctl-session.json"
	}
	return filepath.Join(dir, "admin-dashboard", "session.json")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("dashctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "config file")
	backendURL := global.String("backend", "", "analytics backend url (overrides config)")
	storePath := global.String("store", defaultStorePath(), "session file")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := adapterlogger.NewWithWriter(stderr, adapterlogger.ParseLevel(level)).With("component", "dashctl")

	client, err := backend.New(backend.Config{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.Timeout, Logger: logger})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*storePath), 0o700); err != nil {
		return err
	}
	persistent, err := storage.OpenFile(*storePath)
	if err != nil {
		return err
	}
	ws := application.NewWorkspace(ctx, "dashctl", client, persistent, storage.NewMemory(), logger, nil, application.Settings{
		CompaniesTTL:   cfg.Cache.CompaniesTTL,
		PanelTTL:       cfg.Cache.PanelTTL,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})
	defer ws.Close()

	c := &cli{ws: ws, out: stdout}
	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "login":
		return c.login(ctx, rest)
	case "logout":
		ws.Session.Logout(ctx)
		return c.print(map[string]string{"status": "logged out"})
	case "whoami":
		return c.whoami(ctx)
	case "companies":
		return c.withSession(ctx, func(sess domain.Session) error {
			companies, err := ws.Analytics.Companies(ctx, sess)
			if err != nil {
				return err
			}
			return c.print(companies)
		})
	case "select-company":
		if len(rest) != 1 {
			return errors.New("select-company takes one company name")
		}
		return ws.Session.SelectCompany(ctx, rest[0])
	case "panel":
		return c.panel(ctx, rest)
	case "overview":
		return c.overview(ctx, rest)
	case "view":
		return c.view(ctx, rest)
	case "users":
		users, err := ws.Users.Load(ctx)
		if err != nil {
			return fail(err)
		}
		return c.print(users)
	case "approve", "reject", "delete":
		return c.userAction(ctx, cmd, rest)
	case "create-user":
		return c.createUser(ctx, rest)
	case "perms":
		return c.perms(ctx, rest)
	case "export":
		return c.export(ctx, rest)
	case "reset-verify":
		if len(rest) != 1 {
			return errors.New("reset-verify takes one token")
		}
		if err := ws.Session.VerifyResetToken(ctx, rest[0]); err != nil {
			return fail(err)
		}
		return c.print(map[string]string{"status": "valid"})
	case "reset-password":
		return c.resetPassword(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail renders err the way the dashboard would show it.
func fail(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(domain.UserMessage(err))
}

func (c *cli) withSession(ctx context.Context, fn func(domain.Session) error) error {
	sess, err := c.ws.Session.Current(ctx)
	if err != nil {
		return fail(err)
	}
	return fail(fn(sess))
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	password := fs.String("p", os.Getenv("DASHBOARD_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := c.ws.Session.Login(ctx, *username, *password)
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return errors.New(cmp.Or(apiErr.Detail, "invalid username or password"))
	}
	if err != nil {
		return fail(err)
	}
	return c.print(sess)
}

func (c *cli) whoami(ctx context.Context) error {
	sess, err := c.ws.Session.Current(ctx)
	if err != nil {
		return fail(err)
	}
	return c.print(map[string]any{
		"session":          sess,
		"selected_company": c.ws.Session.SelectedCompany(ctx),
	})
}

type filterFlags struct {
	start, end, company, domain *string
	all                         *bool
}

func addFilters(fs *flag.FlagSet) filterFlags {
	return filterFlags{
		start:   fs.String("start", "", "start date YYYY-MM-DD"),
		end:     fs.String("end", "", "end date YYYY-MM-DD"),
		all:     fs.Bool("all", false, "all time"),
		company: fs.String("company", "", "company (defaults to the selected company)"),
		domain:  fs.String("domain", "", "domain"),
	}
}

func (f filterFlags) query(ctx context.Context, ws *application.Workspace) (domain.AnalyticsQuery, error) {
	r, err := domain.ParseDateRange(*f.start, *f.end, *f.all)
	if err != nil {
		return domain.AnalyticsQuery{}, errors.New("give -start and -end as YYYY-MM-DD, or -all")
	}
	company := *f.company
	if company == "" {
		company = ws.Session.SelectedCompany(ctx)
	}
	return domain.AnalyticsQuery{Range: r, Company: company, Domain: *f.domain}, nil
}

func (c *cli) panel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("panel", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "", "analytics endpoint")
	filters := addFilters(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := domain.ParseEndpoint(*endpoint)
	if err != nil {
		var names []string
		for _, known := range domain.AnalyticsEndpoints() {
			names = append(names, string(known))
		}
		return fmt.Errorf("unknown endpoint %q (one of %s)", *endpoint, strings.Join(names, ", "))
	}
	q, err := filters.query(ctx, c.ws)
	if err != nil {
		return err
	}
	return c.withSession(ctx, func(sess domain.Session) error {
		raw, err := c.ws.Analytics.Panel(ctx, sess, e, q)
		if err != nil {
			return err
		}
		return c.print(raw)
	})
}

func (c *cli) overview(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("overview", flag.ContinueOnError)
	filters := addFilters(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := filters.query(ctx, c.ws)
	if err != nil {
		return err
	}
	return c.withSession(ctx, func(sess domain.Session) error {
		res, err := c.ws.Analytics.Overview(ctx, sess, q)
		if err != nil {
			return err
		}
		return c.print(res)
	})
}

func (c *cli) view(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("view needs a name (one of %s)", strings.Join(application.ViewNames(), ", "))
	}
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	filters := addFilters(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	q, err := filters.query(ctx, c.ws)
	if err != nil {
		return err
	}
	v, err := c.ws.View(args[0])
	if err != nil {
		return fmt.Errorf("unknown view %q", args[0])
	}
	v.OnDependenciesChange(q)
	v.Wait()
	snap := v.Snapshot()
	if snap.Err != nil {
		return fail(snap.Err)
	}
	return c.print(map[string]any{"view": args[0], "state": snap.State, "data": snap.Data})
}

func (c *cli) userAction(ctx context.Context, action string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s takes one user id", action)
	}
	if _, err := c.ws.Users.Load(ctx); err != nil {
		return fail(err)
	}
	var err error
	switch action {
	case "approve":
		err = c.ws.Users.Approve(ctx, args[0])
	case "reject":
		err = c.ws.Users.Reject(ctx, args[0])
	case "delete":
		err = c.ws.Users.Delete(ctx, args[0])
	}
	if err != nil {
		return fail(err)
	}
	return c.print(c.ws.Users.Users())
}

func (c *cli) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	email := fs.String("e", "", "email")
	password := fs.String("p", "", "password")
	role := fs.String("r", string(domain.RoleEmployee), "role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rec, err := c.ws.Users.Create(ctx, domain.NewUser{
		Username: *username,
		Email:    *email,
		Password: *password,
		Role:     domain.Role(*role),
	})
	if err != nil {
		return fail(err)
	}
	return c.print(rec)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (c *cli) perms(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("perms needs a user id")
	}
	fs := flag.NewFlagSet("perms", flag.ContinueOnError)
	var groups, domains stringList
	fs.Var(&groups, "group", "toggle a permission group (repeatable)")
	fs.Var(&domains, "domain", "toggle a domain by display name (repeatable)")
	save := fs.Bool("save", false, "save the result")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	editor := c.ws.Editor(ctx, args[0])
	if msg := editor.State().Error; msg != "" {
		return errors.New(msg)
	}
	for _, g := range groups {
		if err := editor.ToggleGroup(domain.PermissionGroup(g)); err != nil {
			return fmt.Errorf("unknown permission group %q", g)
		}
	}
	for _, d := range domains {
		editor.ToggleDomain(d)
	}
	if *save {
		if err := editor.Save(ctx); err != nil {
			return fail(err)
		}
	}
	return c.print(editor.State())
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	month := fs.String("month", "", "month YYYY-MM")
	output := fs.String("o", "", "output file (default analytics_<month>.xlsx)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withSession(ctx, func(sess domain.Session) error {
		data, err := c.ws.Analytics.Export(ctx, sess, *month)
		if err != nil {
			return err
		}
		path := *output
		if path == "" {
			path = "analytics_" + *month + ".xlsx"
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		sheets, err := spreadsheet.Summarize(data)
		if err != nil {
			return err
		}
		sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })
		return c.print(map[string]any{"file": path, "bytes": len(data), "sheets": sheets})
	})
}

func (c *cli) resetPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	token := fs.String("token", "", "reset token")
	password := fs.String("p", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.ws.Session.ResetPassword(ctx, *token, *password); err != nil {
		return fail(err)
	}
	return c.print(map[string]string{"status": "password updated"})
}
