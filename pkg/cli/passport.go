package cli

import (
	"flag"
	"fmt"

	"github.com/agentpass/agentpass/pkg/identity"
)

func newCreateCommand() *Command {
	cmd := &Command{
		Name:        "create",
		Description: "Create a new agent passport",
		Flags:       flag.NewFlagSet("create", flag.ExitOnError),
		Run:         runCreate,
	}

	cmd.Flags.String("owner", "", "Owner email address")
	cmd.Flags.String("name", "", "Agent name")
	cmd.Flags.String("description", "", "Agent description")
	serverFlag(cmd.Flags)

	return cmd
}

func runCreate(args []string) error {
	cmd := newCreateCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	owner := cmd.Flags.Lookup("owner").Value.String()
	name := cmd.Flags.Lookup("name").Value.String()
	description := cmd.Flags.Lookup("description").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	if owner == "" || name == "" {
		return fmt.Errorf("owner and name are required")
	}

	var passport identity.Passport
	err := postJSON(server+"/v1/passports", map[string]string{
		"owner_email": owner,
		"name":        name,
		"description": description,
	}, &passport)
	if err != nil {
		return err
	}

	fmt.Printf("Created passport %s for %s\n", passport.PassportID, passport.Name)
	fmt.Printf("Public key: %s\n", passport.PublicKey)
	return nil
}

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List agent passports",
		Flags:       flag.NewFlagSet("list", flag.ExitOnError),
		Run:         runList,
	}
	serverFlag(cmd.Flags)
	return cmd
}

func runList(args []string) error {
	cmd := newListCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	server := cmd.Flags.Lookup("server").Value.String()

	var passports []struct {
		PassportID string `json:"passport_id"`
		Name       string `json:"name"`
		Status     string `json:"status"`
	}
	if err := getJSON(server+"/v1/passports", &passports); err != nil {
		return err
	}

	if len(passports) == 0 {
		fmt.Println("No passports registered")
		return nil
	}
	for _, p := range passports {
		fmt.Printf("%s  %-10s %s\n", p.PassportID, p.Status, p.Name)
	}
	return nil
}

func newRevokeCommand() *Command {
	cmd := &Command{
		Name:        "revoke",
		Description: "Permanently revoke a passport",
		Flags:       flag.NewFlagSet("revoke", flag.ExitOnError),
		Run:         runRevoke,
	}

	cmd.Flags.String("passport", "", "Passport id (ap_...)")
	serverFlag(cmd.Flags)

	return cmd
}

func runRevoke(args []string) error {
	cmd := newRevokeCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	passportID := cmd.Flags.Lookup("passport").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	if !identity.ValidPassportID(passportID) {
		return fmt.Errorf("invalid passport id: %s", passportID)
	}

	var passport identity.Passport
	if err := postJSON(server+"/v1/passports/"+passportID+"/revoke", nil, &passport); err != nil {
		return err
	}

	fmt.Printf("Revoked passport %s\n", passport.PassportID)
	return nil
}
