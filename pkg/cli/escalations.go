package cli

import (
	"flag"
	"fmt"

	"github.com/agentpass/agentpass/pkg/escalation"
)

func newEscalationsCommand() *Command {
	cmd := &Command{
		Name:        "escalations",
		Description: "List CAPTCHA escalations waiting for a human",
		Flags:       flag.NewFlagSet("escalations", flag.ExitOnError),
		Run:         runEscalations,
	}

	cmd.Flags.String("passport", "", "Filter by passport id")
	serverFlag(cmd.Flags)

	return cmd
}

func runEscalations(args []string) error {
	cmd := newEscalationsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	passportID := cmd.Flags.Lookup("passport").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	url := server + "/v1/escalations"
	if passportID != "" {
		url += "?passport_id=" + passportID
	}

	var escalations []*escalation.Escalation
	if err := getJSON(url, &escalations); err != nil {
		return err
	}

	if len(escalations) == 0 {
		fmt.Println("No escalations")
		return nil
	}
	for _, esc := range escalations {
		fmt.Printf("%s  %-10s %s %s (%s)\n", esc.ID, esc.Status, esc.PassportID, esc.Service, esc.CaptchaType)
	}
	return nil
}

func newResolveCommand() *Command {
	cmd := &Command{
		Name:        "resolve",
		Description: "Mark a CAPTCHA escalation as resolved",
		Flags:       flag.NewFlagSet("resolve", flag.ExitOnError),
		Run:         runResolve,
	}

	cmd.Flags.String("id", "", "Escalation id")
	serverFlag(cmd.Flags)

	return cmd
}

func runResolve(args []string) error {
	cmd := newResolveCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id := cmd.Flags.Lookup("id").Value.String()
	server := cmd.Flags.Lookup("server").Value.String()

	if id == "" {
		return fmt.Errorf("escalation id is required")
	}

	var esc escalation.Escalation
	if err := postJSON(server+"/v1/escalations/"+id+"/resolve", nil, &esc); err != nil {
		return err
	}

	fmt.Printf("Escalation %s resolved\n", esc.ID)
	return nil
}
