package cli

import (
	"flag"
	"fmt"
	"net/url"

	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/orchestrator"
)

func newAuthCommand() *Command {
	cmd := &Command{
		Name:        "auth",
		Description: "Authenticate an agent against a service",
		Flags:       flag.NewFlagSet("auth", flag.ExitOnError),
		Run:         runAuth,
	}

	cmd.Flags.String("passport", "", "Passport id (ap_...)")
	cmd.Flags.String("service", "", "Service URL or hostname")
	serverFlag(cmd.Flags)

	return cmd
}

func runAuth(args []string) error {
	cmd := newAuthCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	passportID := cmd.Flags.Lookup("passport").Value.String()
	service := cmd.Flags.Lookup("service").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	if !identity.ValidPassportID(passportID) {
		return fmt.Errorf("invalid passport id: %s", passportID)
	}
	if service == "" {
		return fmt.Errorf("service is required")
	}

	var result orchestrator.Result
	err := postJSON(server+"/v1/auth", map[string]string{
		"passport_id": passportID,
		"service":     service,
	}, &result)
	if err != nil {
		return err
	}

	switch {
	case result.Success:
		fmt.Printf("Authenticated to %s via %s (retries: %d)\n", result.Service, result.Method, result.RetriesUsed)
	case result.NeedsHuman:
		fmt.Printf("CAPTCHA wall on %s (%s); escalation %s is waiting for a human\n",
			result.Service, result.CaptchaType, result.EscalationID)
	default:
		fmt.Printf("Authentication failed on %s: %s (%s)\n", result.Service, result.Error, result.Category)
		if result.ErrorID != "" {
			fmt.Printf("Error record %s is waiting for an owner decision\n", result.ErrorID)
		}
	}
	return nil
}

func newStatusCommand() *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Show session and credential state for a service",
		Flags:       flag.NewFlagSet("status", flag.ExitOnError),
		Run:         runStatus,
	}

	cmd.Flags.String("passport", "", "Passport id (ap_...)")
	cmd.Flags.String("service", "", "Service URL or hostname")
	serverFlag(cmd.Flags)

	return cmd
}

func runStatus(args []string) error {
	cmd := newStatusCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	passportID := cmd.Flags.Lookup("passport").Value.String()
	service := cmd.Flags.Lookup("service").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	if !identity.ValidPassportID(passportID) {
		return fmt.Errorf("invalid passport id: %s", passportID)
	}
	if service == "" {
		return fmt.Errorf("service is required")
	}

	query := url.Values{"passport_id": {passportID}, "service": {service}}
	var status orchestrator.Status
	if err := getJSON(server+"/v1/auth/status?"+query.Encode(), &status); err != nil {
		return err
	}

	fmt.Printf("Service:    %s\n", status.Service)
	fmt.Printf("Session:    %v\n", status.HasSession)
	if status.SessionExpiresAt != nil {
		fmt.Printf("Expires:    %s\n", status.SessionExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("Credential: %v\n", status.HasCredential)
	return nil
}
