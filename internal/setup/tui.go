package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

// OutputFile is where the wizard writes the generated configuration.
const OutputFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collected by the wizard.
type answers struct {
	platform      string
	pair          string
	takerFee      string
	feeAsset      string
	users         string
	pushoverToken string
	pushoverKeys  map[string]string
	rateURL       string
	webhookAddr   string
	webhookPin    string
	submitOrders  bool
}

// RunTUI launches the terminal configuration wizard and writes OutputFile.
func RunTUI() error {
	a := answers{
		pair:         "BTC_USDT",
		takerFee:     "0.00075",
		feeAsset:     "BNB",
		rateURL:      "https://api.exchangerate.host/latest?base=EUR",
		webhookAddr:  ":8080",
		pushoverKeys: make(map[string]string),
	}
	var confirm bool

	// step 1: welcome
	screen("STEP 1: PLATFORM")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Signals in, sized orders out.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Binance", config.PlatformBinance),
					huh.NewOption("Bybit", config.PlatformBybit),
					huh.NewOption("Simulation", config.PlatformSimulate),
				).
				Value(&a.platform),
		),
	).Run()
	if err != nil {
		return err
	}

	// market
	screen("STEP 2: MARKET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. BTC_USDT)").
				Value(&a.pair).
				Validate(validatePair),
			huh.NewInput().
				Title("Taker Fee").
				Description("Fraction of the notional (e.g. 0.00075)").
				Value(&a.takerFee).
				Validate(validateFee),
			huh.NewInput().
				Title("Fee Asset").
				Description("Asset the exchange charges fees in").
				Value(&a.feeAsset),
		),
	).Run()
	if err != nil {
		return err
	}

	// users
	screen("STEP 3: USERS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Users").
				Description("Comma separated names. API keys are read from SIGTRADER_<USER>_API_KEY and _API_SECRET").
				Value(&a.users).
				Validate(validateUsers),
			huh.NewInput().
				Title("Pushover Application Token").
				Description("Leave empty to disable notifications").
				Value(&a.pushoverToken).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.pushoverToken != "" {
		var fields []huh.Field
		values := make(map[string]*string)
		for _, user := range splitUsers(a.users) {
			v := new(string)
			values[user] = v
			fields = append(fields, huh.NewInput().
				Title("Pushover key of "+user).
				Value(v).
				Validate(notEmpty))
		}
		screen("STEP 4: NOTIFICATIONS")
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
		for user, v := range values {
			a.pushoverKeys[user] = *v
		}
	}

	// ingress
	screen("STEP 5: SIGNALS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Webhook Address").
				Value(&a.webhookAddr).
				Validate(notEmpty),
			huh.NewInput().
				Title("Webhook PIN").
				Description("Secret path segment of /webhook/{pin}").
				Value(&a.webhookPin).
				EchoMode(huh.EchoModePassword).
				Validate(notEmpty),
			huh.NewInput().
				Title("EUR/USD Rate URL").
				Description("JSON endpoint returning {\"rates\":{\"USD\":...}}").
				Value(&a.rateURL),
			huh.NewConfirm().
				Title("Submit orders to the exchange?").
				Description("No means signals are only sized, logged and notified").
				Value(&a.submitOrders),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Platform: %s\nPair: %s\nTaker fee: %s\nUsers: %s\nWebhook: %s\nSubmit orders: %t\n",
		a.platform, strings.ToUpper(a.pair), a.takerFee, strings.Join(splitUsers(a.users), ", "), a.webhookAddr, a.submitOrders,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	data, err := yaml.Marshal(buildConfig(a))
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	// the file holds the webhook pin and pushover token
	if err := os.WriteFile(OutputFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\nConfiguration saved to %s\nStart with: sigtrader -config %s", OutputFile, OutputFile)))
	return nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("SIGTRADER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// buildConfig converts the answers into the YAML form read by config.Parse.
func buildConfig(a answers) config.ConfigTmp {
	users := make(map[string]config.UserTmp)
	for _, user := range splitUsers(a.users) {
		users[user] = config.UserTmp{}
	}

	var keys map[string]string
	if a.pushoverToken != "" && len(a.pushoverKeys) > 0 {
		keys = a.pushoverKeys
	}

	return config.ConfigTmp{
		PushoverApplicationToken: a.pushoverToken,
		PushoverUserKeys:         keys,
		Users:                    users,
		ExchangeVariables: config.ExchangeVariablesTmp{
			TakerFee: a.takerFee,
			Pair:     strings.ToUpper(a.pair),
			FeeAsset: strings.ToUpper(a.feeAsset),
		},
		EurUsdExchangeRateURL: a.rateURL,
		Webhook:               config.WebhookTmp{Addr: a.webhookAddr, Pin: a.webhookPin},
		Platform:              a.platform,
		SubmitOrders:          a.submitOrders,
	}
}

func splitUsers(s string) []string {
	var users []string
	seen := make(map[string]bool)
	for _, u := range strings.Split(s, ",") {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		users = append(users, u)
	}
	return users
}

func validatePair(s string) error {
	if s == "" {
		return fmt.Errorf("pair cannot be empty")
	}
	if _, err := domain.ParsePair(s); err != nil {
		return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
	}
	return nil
}

func validateFee(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateUsers(s string) error {
	if len(splitUsers(s)) == 0 {
		return fmt.Errorf("at least one user is required")
	}
	return nil
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}
