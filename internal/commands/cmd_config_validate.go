package commands

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/courier/internal/core/config"
	"github.com/hay-kot/courier/internal/identity"
	"github.com/hay-kot/courier/internal/printer"
)

// checkUser is the identity a provider check requests a token for when no
// --user is given.
const checkUser = "courier-config-check"

type checkStatus int

const (
	checkPass checkStatus = iota
	checkWarn
	checkFail
)

type checkItem struct {
	Status checkStatus
	Label  string
	Detail string
}

type checkSection struct {
	Title string
	Items []checkItem
}

// configReport is the result of checking a configuration, grouped the way
// it is printed.
type configReport struct {
	Sections []checkSection
	Errors   int
	Warnings int
}

func (r *configReport) add(title string, items ...checkItem) {
	for _, it := range items {
		switch it.Status {
		case checkFail:
			r.Errors++
		case checkWarn:
			r.Warnings++
		}
	}
	r.Sections = append(r.Sections, checkSection{Title: title, Items: items})
}

type ConfigValidateCmd struct {
	flags         *Flags
	checkProvider bool
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "courier config validate [--check-provider]",
				Description: "Checks the resolved configuration: files, credentials, the identity provider, limits and display names. With --check-provider a token is requested from the identity provider and verified with the configured key.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "check-provider",
						Usage:       "request and verify a token from the identity provider",
						Destination: &cmd.checkProvider,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	report := buildReport(cfg, cmd.flags.ConfigPath)
	if cmd.checkProvider {
		user := cmd.flags.User
		if user == "" {
			user = checkUser
		}
		report.add("Provider check", checkTokenProvider(ctx, cfg, user))
	}

	for _, section := range report.Sections {
		p.Section(section.Title)
		for _, it := range section.Items {
			switch it.Status {
			case checkFail:
				p.FailItem(it.Label, it.Detail)
			case checkWarn:
				p.WarnItem(it.Label, it.Detail)
			default:
				p.CheckItem(it.Label, it.Detail)
			}
		}
		p.Printf("")
	}

	if report.Errors > 0 {
		p.Errorf("%d error(s), %d warning(s)", report.Errors, report.Warnings)
		return cli.Exit("", 1)
	}
	if report.Warnings > 0 {
		p.Successf("Configuration is valid (%d warning(s))", report.Warnings)
		return nil
	}
	p.Successf("Configuration is valid")
	return nil
}

// reportField is one config value shown in the report. Errors and warnings
// are matched to it by key.
type reportField struct {
	key   string
	value string
}

// buildReport checks cfg and groups every field's outcome into sections.
func buildReport(cfg *config.Config, configPath string) configReport {
	fieldErrs := fieldErrors(cfg.ValidateDeep(configPath))
	warnings := cfg.Warnings()

	identityURL := cfg.Identity.URL
	if identityURL == "" {
		identityURL = "embedded"
	}

	sections := []struct {
		title  string
		fields []reportField
	}{
		{"Files", []reportField{
			{"config_file", configPath},
			{"data_dir", cfg.DataDir},
		}},
		{"Credentials", []reportField{
			{"app_id", cfg.AppID},
			{"provider_id", cfg.ProviderID},
			{"auth_key", maskSecret(cfg.AuthKey)},
		}},
		{"Identity provider", []reportField{
			{"identity.url", identityURL},
			{"identity.listen", cfg.Identity.Listen},
			{"identity.app_ids", strings.Join(cfg.Identity.AppIDs, ", ")},
			{"identity.token_ttl", cfg.Identity.TokenTTL.String()},
			{"nonce_ttl", cfg.NonceTTL.String()},
		}},
		{"Limits", []reportField{
			{"outbox.max_pending", strconv.Itoa(cfg.Outbox.MaxPending)},
		}},
		{"Display names", displayNameFields(cfg.DisplayNames)},
	}

	var report configReport
	seen := make(map[string]bool)
	for _, section := range sections {
		var items []checkItem
		for _, f := range section.fields {
			seen[f.key] = true
			items = append(items, fieldItems(f, fieldErrs, warnings)...)
		}
		if len(items) == 0 {
			items = append(items, checkItem{Status: checkPass, Label: "none configured"})
		}
		report.add(section.title, items...)
	}

	// Errors not tied to a listed field still fail the report.
	var other []checkItem
	for _, fe := range fieldErrs {
		if seen[fe.Field] {
			continue
		}
		label := fe.Field
		if label == "" {
			label = "config"
		}
		other = append(other, checkItem{Status: checkFail, Label: label, Detail: fe.Err.Error()})
	}
	if len(other) > 0 {
		report.add("Other", other...)
	}

	return report
}

func fieldItems(f reportField, fieldErrs criterio.FieldErrors, warnings []config.ValidationWarning) []checkItem {
	var items []checkItem
	for _, fe := range fieldErrs {
		if fe.Field == f.key {
			items = append(items, checkItem{Status: checkFail, Label: f.key, Detail: fe.Err.Error()})
		}
	}
	if len(items) > 0 {
		return items
	}

	for _, w := range warnings {
		if w.Item == f.key {
			items = append(items, checkItem{Status: checkWarn, Label: f.key, Detail: w.Message})
		}
	}
	if len(items) > 0 {
		return items
	}

	return []checkItem{{Status: checkPass, Label: f.key, Detail: f.value}}
}

func displayNameFields(names map[string]string) []reportField {
	fields := make([]reportField, 0, len(names))
	for _, id := range slices.Sorted(maps.Keys(names)) {
		fields = append(fields, reportField{key: "display_names." + id, value: names[id]})
	}
	return fields
}

// fieldErrors flattens a validation error into field errors.
func fieldErrors(err error) criterio.FieldErrors {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return criterio.FieldErrors{{Err: err}}
}

func maskSecret(s string) string {
	if s == "" {
		return "not set"
	}
	return fmt.Sprintf("set (%d characters)", len(s))
}

// checkTokenProvider requests a token for user from the configured identity
// provider and verifies it with the configured key.
func checkTokenProvider(ctx context.Context, cfg *config.Config, user string) checkItem {
	const label = "identity token"

	client, stop, err := NewTokenProvider(cfg, log.With().Str("component", "identity").Logger())
	if err != nil {
		return checkItem{Status: checkFail, Label: label, Detail: err.Error()}
	}
	defer func() { _ = stop() }()

	token, err := client.IdentityToken(ctx, cfg.AppID, user, uuid.NewString())
	if err != nil {
		detail := err.Error()
		var perr *identity.ProviderError
		if errors.As(err, &perr) {
			detail += ". " + perr.Recovery()
		}
		return checkItem{Status: checkFail, Label: label, Detail: detail}
	}

	verifier, err := identity.NewVerifier(cfg.ProviderID, cfg.AuthKey)
	if err != nil {
		return checkItem{Status: checkFail, Label: label, Detail: err.Error()}
	}
	if _, err := verifier.Verify(token, cfg.AppID); err != nil {
		return checkItem{Status: checkFail, Label: label, Detail: fmt.Sprintf("token rejected: %v", err)}
	}

	return checkItem{Status: checkPass, Label: label, Detail: "issued and verified for " + user}
}
