package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"productsync/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage table app credentials",
	Long: `Manage the app id and secret used to obtain table access tokens.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables PRODUCTSYNC_APP_ID / PRODUCTSYNC_APP_SECRET (read only)

Values in the config file or environment take precedence over stored ones.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set [app_id]",
	Short: "Store an app id and secret",
	Long: `Store an app id and secret securely. The secret is read without echo.

Run 'productsync auth guide' to see where to find both values.`,
	Example: `  # Interactive
  productsync auth set

  # App id on the command line, secret prompted
  productsync auth set cli_a1b2c3d4e5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored credentials with masked secrets",
	Args:  cobra.NoArgs,
	RunE:  runAuthShow,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete <app_id>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthDelete,
}

var authGuideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain where to find the app id and secret",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowAppCredentialGuide(printer.Writer())
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authDeleteCmd)
	authCmd.AddCommand(authGuideCmd)
}

var stdin = bufio.NewReader(os.Stdin)

func runAuthSet(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var appID string
	if len(args) > 0 {
		appID = strings.TrimSpace(args[0])
	}
	if appID == "" {
		fmt.Print("App ID: ")
		appID, err = readLine()
		if err != nil {
			return fmt.Errorf("failed to read app id: %w", err)
		}
	}
	if appID == "" {
		return errors.New("app id is required")
	}
	if !strings.HasPrefix(appID, "cli_") {
		printer.PrintWarning("App ids usually start with cli_", appID)
	}

	if existing, _ := manager.Retrieve(appID); existing != nil {
		if !confirm(fmt.Sprintf("Credentials for '%s' already exist. Replace them?", appID)) {
			return nil
		}
	}

	fmt.Print("App Secret: ")
	secret, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read app secret: %w", err)
	}
	if secret == "" {
		return errors.New("app secret is required")
	}

	cred := &auth.AppCredential{AppID: appID, AppSecret: secret, LastModified: time.Now()}
	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	printer.PrintSuccess("Credentials stored for " + appID)
	if _, err := auth.NewKeyringStore(); err == nil {
		printer.PrintInfo("Stored in", "system keychain")
	} else {
		printer.PrintInfo("Stored in", "encrypted file")
	}
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(creds) == 0 {
		printer.PrintInfo("No stored credentials", "use 'productsync auth set' to add one")
		return nil
	}

	printer.PrintHighlight("Stored Credentials")
	out := printer.Writer()
	for i, cred := range creds {
		s := auth.Sanitize(cred)
		marker := ""
		if i == 0 {
			marker = printer.Dim(" (default)")
		}
		fmt.Fprintf(out, "%d. App ID: %s%s\n", i+1, s.AppID, marker)
		fmt.Fprintf(out, "   Secret: %s\n", s.AppSecret)
		if !s.LastModified.IsZero() {
			fmt.Fprintf(out, "   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	printer.PrintSuccess("Credentials removed: " + args[0])
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}
	return readLine()
}

func readLine() (string, error) {
	input, err := stdin.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// confirm asks a yes/no question; anything but y/yes is no
func confirm(question string) bool {
	fmt.Printf("%s (y/N): ", question)
	answer, _ := readLine()
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
