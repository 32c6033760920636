package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/internal/config"
	"github.com/briangreenhill/killerwiki/query"
	"github.com/briangreenhill/killerwiki/resources"
)

const version = "0.1.0"

var errValidation = errors.New("validation failed")

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("killerwiki")
	}
}

func runCLI(args []string) error {
	root, cleanup := newRootCmd(os.Stdout, os.Stderr)
	defer cleanup()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// newRootCmd builds the command tree. cleanup releases whatever the
// invoked command opened.
func newRootCmd(stdout, stderr io.Writer) (root *cobra.Command, cleanup func()) {
	var a *app

	root = &cobra.Command{
		Use:           "killerwiki",
		Short:         "Browse and edit the killerwiki backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err = newApp(cmd.Context(), cfg, newLogger(stderr, cfg.Level()))
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	// commands read the app lazily since it only exists after PersistentPreRunE
	get := func() *app { return a }
	root.AddCommand(
		newResourcesCmd(get),
		newListCmd(get),
		newGetCmd(get),
		newAnswerCmd(get),
		newSaveCmd(get),
		newLoginCmd(get),
		newRegisterCmd(get),
		newLogoutCmd(get),
		newWhoamiCmd(get),
		newCacheCmd(get),
	)
	return root, func() {
		if a != nil {
			a.close()
		}
	}
}

func resource(a *app, name string) (resources.Resource, error) {
	res, ok := a.registry.GetResource(name)
	if !ok {
		return nil, fmt.Errorf("resource '%s' not found. Available resources: %v", name, a.registry.List())
	}
	return res, nil
}

func newResourcesCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the available resources",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range get().registry.List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newListCmd(get func() *app) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "Show one page of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resource(get(), args[0])
			if err != nil {
				return err
			}
			out, err := res.List(cmd.Context(), page)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newGetCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resource(get(), args[0])
			if err != nil {
				return err
			}
			out, err := res.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newAnswerCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <profile-id> <question-id>",
		Short: "Show a profile's answer to one question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			q := a.set.SerialKillers.AnswerQuery(a.query, args[0], args[1])
			ans, err := query.Fetch(cmd.Context(), a.query, q)
			if err != nil {
				return fmt.Errorf("failed to get answer: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), resources.FormatAnswer(ans))
			return nil
		},
	}
}

func newSaveCmd(get func() *app) *cobra.Command {
	var (
		id    string
		sets  []string
		files []string
	)
	cmd := &cobra.Command{
		Use:   "save <resource>",
		Short: "Create an entity, or update it when --id is given",
		Example: `  killerwiki save sections --set name=Motive
  killerwiki save serial-killers --id 1 --set date_of_birth=1906-08-27T00:00:00Z --file photo=gein.jpg
  killerwiki save answers --set profile_id=1 --set question_id=3 --set body="Two confirmed"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resource(get(), args[0])
			if err != nil {
				return err
			}
			payload, err := buildPayload(id, sets, files)
			if err != nil {
				return err
			}
			out, ve, err := res.Save(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if ve != nil {
				w := cmd.ErrOrStderr()
				fmt.Fprintln(w, ve.Message)
				for _, m := range ve.Messages() {
					fmt.Fprintln(w, "  "+m)
				}
				return errValidation
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "id of the entity to update")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value; values are parsed as JSON when possible")
	cmd.Flags().StringArrayVar(&files, "file", nil, "field=path of a file to upload")
	return cmd
}

// buildPayload turns --set and --file flags into a save payload
func buildPayload(id string, sets, files []string) (crud.Payload, error) {
	p := crud.Payload{}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected field=value", s)
		}
		p[k] = parseValue(v)
	}
	for _, f := range files {
		k, path, ok := strings.Cut(f, "=")
		if !ok || k == "" || path == "" {
			return nil, fmt.Errorf("invalid --file %q, expected field=path", f)
		}
		file, err := crud.OpenFile(path)
		if err != nil {
			return nil, err
		}
		p[k] = file
	}
	if id != "" {
		p["id"] = id
	}
	return p, nil
}

// parseValue keeps numbers exact and falls back to the raw string
func parseValue(v string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(v)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return v
	}
	return out
}

func newLoginCmd(get func() *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			resp := a.auth.Login(cmd.Context(), email, password)
			a.session.SetAuthResponse(resp)
			if !resp.Succeeded() {
				return errors.New(resp.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s <%s>\n", resp.User.Name, resp.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(get func() *app) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			resp := a.auth.Register(cmd.Context(), name, email, password)
			a.session.SetAuthResponse(resp)
			if !resp.Succeeded() {
				return errors.New(resp.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s <%s>\n", resp.User.Name, resp.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			tok := a.session.AccessToken()
			if tok == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			// the local session ends even when the server call fails
			if err := a.auth.Logout(cmd.Context(), tok); err != nil {
				a.logger.Warn().Err(err).Msg("server logout failed")
			}
			a.session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			a := get()
			w := cmd.OutOrStdout()
			u := a.session.User()
			if u == nil || !a.session.IsAuthenticated() {
				fmt.Fprintln(w, "Not logged in")
				if msg := a.session.Message(); msg != "" {
					fmt.Fprintln(w, msg)
				}
				return
			}
			fmt.Fprintf(w, "%s <%s>\n", u.Name, u.Email)
			if exp := a.session.Expiry(); !exp.IsZero() {
				fmt.Fprintf(w, "Session expires %s\n", exp.Local().Format("2006-01-02 15:04"))
			}
		},
	}
}

func newCacheCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the conditional-request cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			get().store.Clear(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
		},
	})
	return cmd
}
