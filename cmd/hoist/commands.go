package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/gosuri/uitable"
	"github.com/krancour/hoist/internal/api"
	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/core"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/pipeline"
	"github.com/krancour/hoist/internal/variables"
	"github.com/krancour/hoist/internal/version"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli/v2"
	"k8s.io/apimachinery/pkg/util/duration"
)

func serve(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	rt.logger.Infof(
		"Starting hoist API server -- version %s -- commit %s",
		version.Version(),
		version.Commit(),
	)
	apiConfig, err := api.GetConfigFromEnvironment()
	if err != nil {
		return err
	}
	if c.Bool(flagWork) {
		_, stop, err := rt.startWorkers(c.Context)
		if err != nil {
			return err
		}
		defer stop()
	}
	logger := logging.ForComponent(rt.logger, "api")
	base := &api.BaseEndpoints{Logger: logger}
	err = api.NewServer(
		apiConfig,
		[]api.Endpoints{
			&api.PipelinesEndpoints{
				BaseEndpoints: base,
				Templates:     rt.stores.Templates,
				Hosts:         rt.stores.Hosts,
				Jobs:          rt.registry,
			},
			&api.JobsEndpoints{
				BaseEndpoints: base,
				Jobs:          rt.registry,
			},
			&api.ChannelsEndpoints{
				BaseEndpoints: base,
				Bus:           rt.bus,
				RecentLimit:   apiConfig.RecentLimit,
			},
			&api.VariablesEndpoints{BaseEndpoints: base},
		},
		logger,
	).ListenAndServe(c.Context)
	if c.Context.Err() != nil {
		return nil
	}
	return err
}

func work(c *cli.Context) error {
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	rt.logger.Infof(
		"Starting hoist workers -- version %s -- commit %s",
		version.Version(),
		version.Commit(),
	)
	_, stop, err := rt.startWorkers(c.Context)
	if err != nil {
		return err
	}
	<-c.Context.Done()
	stop()
	return nil
}

func deploy(c *cli.Context) error {
	output := c.String(flagOutput)
	if err := validateOutputFormat(output); err != nil {
		return err
	}
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	orchestrator, stop, err := rt.startWorkers(c.Context)
	if err != nil {
		return err
	}
	defer stop()

	result, err := orchestrator.DeployTemplate(
		c.Context,
		c.String(flagTemplate),
		c.String(flagHost),
	)
	if result.ProjectID != "" {
		if printErr := printResult(output, result); printErr != nil {
			return printErr
		}
	}
	return err
}

func printResult(output string, result pipeline.Result) error {
	switch strings.ToLower(output) {
	case "table":
		fmt.Printf("Project %s: %s\n\n", result.ProjectName, result.State)
		table := uitable.New()
		table.AddRow("SERVICE", "TYPE", "DEPLOYMENT", "STATUS", "ERROR")
		for _, svc := range result.Services {
			status := string(svc.Status)
			if svc.DeploymentID == "" {
				status = "not deployed"
			}
			table.AddRow(svc.Name, svc.Type, svc.DeploymentID, status, svc.Error)
		}
		fmt.Println(table)
		return nil
	default:
		return printStructured(output, result, "deploy")
	}
}

func hostAdd(c *cli.Context) error {
	credential := c.String(flagPassword)
	if keyFile := c.String(flagKeyFile); keyFile != "" {
		keyPath, err := homedir.Expand(keyFile)
		if err != nil {
			return errors.Wrapf(err, "error resolving path %q", keyFile)
		}
		keyBytes, err := ioutil.ReadFile(keyPath)
		if err != nil {
			return errors.Wrapf(err, "error reading key file %q", keyPath)
		}
		credential = string(keyBytes)
	}
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	host := core.Host{
		ObjectMeta:      meta.ObjectMeta{ID: uuid.NewV4().String()},
		Name:            c.String(flagName),
		TenantSlug:      c.String(flagTenant),
		Address:         c.String(flagAddress),
		Port:            c.Int(flagPort),
		Username:        c.String(flagUser),
		PrivateKey:      credential,
		OverlayHostname: c.String(flagOverlayHostname),
	}
	if err = rt.stores.Hosts.Create(c.Context, host); err != nil {
		return err
	}
	fmt.Printf("Host %q added with ID %s.\n", host.Name, host.ID)
	return nil
}

func templateImport(c *cli.Context) error {
	filename := c.String(flagFile)
	fileBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "error reading template file %q", filename)
	}
	// YAML is a superset of JSON, so this handles both.
	templateJSON, err := yaml.YAMLToJSON(fileBytes)
	if err != nil {
		return errors.Wrapf(err, "error parsing template file %q", filename)
	}
	if err = core.ValidateTemplateJSON(templateJSON); err != nil {
		return err
	}
	template := core.Template{}
	if err = json.Unmarshal(templateJSON, &template); err != nil {
		return errors.Wrapf(err, "error decoding template file %q", filename)
	}
	if template.ID == "" {
		template.ID = uuid.NewV4().String()
	}
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	if err = rt.stores.Templates.Create(c.Context, template); err != nil {
		return err
	}
	fmt.Printf(
		"Template %q imported with ID %s (%d services).\n",
		template.Name,
		template.ID,
		len(template.Services),
	)
	return nil
}

func classify(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one expression is required")
	}
	table := uitable.New()
	table.AddRow("EXPRESSION", "KIND")
	for _, expression := range c.Args().Slice() {
		table.AddRow(expression, variables.Classify(expression))
	}
	fmt.Println(table)
	return nil
}

func jobGet(c *cli.Context) error {
	output := c.String(flagOutput)
	if err := validateOutputFormat(output); err != nil {
		return err
	}
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	job, err := rt.registry.Get(c.Context, c.String(flagQueue), c.String(flagID))
	if err != nil {
		return err
	}
	if strings.ToLower(output) != "table" {
		return printStructured(output, job, "get job")
	}
	table := uitable.New()
	table.AddRow("QUEUE", "ID", "STATE", "ATTEMPTS", "AGE", "ERROR")
	var age string
	if job.Created != nil {
		age = duration.ShortHumanDuration(time.Since(*job.Created))
	}
	table.AddRow(job.Queue, job.ID, job.State, job.Attempts, age, job.Error)
	fmt.Println(table)
	return nil
}

func logs(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one channel is required")
	}
	rt, err := newRuntime(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	messages, err := rt.bus.Recent(c.Context, c.Args().First(), c.Int(flagLimit))
	if err != nil {
		return err
	}
	for _, message := range messages {
		fmt.Println(message)
	}
	return nil
}

func validateOutputFormat(output string) error {
	switch strings.ToLower(output) {
	case "table", "yaml", "json":
		return nil
	}
	return errors.Errorf("unknown output format %q", output)
}

func printStructured(output string, obj interface{}, operation string) error {
	var outputBytes []byte
	var err error
	switch strings.ToLower(output) {
	case "yaml":
		outputBytes, err = yaml.Marshal(obj)
	default:
		outputBytes, err = json.MarshalIndent(obj, "", "  ")
	}
	if err != nil {
		return errors.Wrapf(
			err,
			"error formatting output from %s operation",
			operation,
		)
	}
	fmt.Println(string(outputBytes))
	return nil
}
