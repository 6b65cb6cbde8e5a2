package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"query-enhancements/internal/domain"
)

func newDataSourcesCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasources",
		Aliases: []string{"ds"},
		Short:   "Manage external data sources",
	}

	cmd.AddCommand(newDataSourcesListCmd(client))
	cmd.AddCommand(newDataSourcesCreateCmd(client))
	cmd.AddCommand(newDataSourcesDeleteCmd(client))
	cmd.AddCommand(newDataSourcesTestCmd(client))

	return cmd
}

func newDataSourcesListCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := client.ListDataSources(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), list)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "TITLE", "ENGINE", "AUTH", "HEALTH", "ENDPOINT")
			for _, ds := range list {
				health := ds.Health.Status
				if health == "" {
					health = "unknown"
				}
				t.AppendRow([]any{ds.ID, ds.Title, ds.Type, ds.AuthType, health, ds.Endpoint})
			}
			t.Render()
			return nil
		},
	}
}

// dataSourceFlags collects the definition of a data source from flags.
type dataSourceFlags struct {
	req      domain.CreateDataSourceRequest
	authType string
}

func (f *dataSourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.req.Title, "title", "", "Unique data source title (required)")
	cmd.Flags().StringVar(&f.req.Endpoint, "endpoint", "", "Base URL of the backend (required)")
	cmd.Flags().StringVar(&f.req.Description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&f.req.Type, "engine-type", "OpenSearch", "Backend flavour, e.g. OpenSearch, Prometheus")
	cmd.Flags().StringVar(&f.authType, "auth-type", string(domain.AuthTypeNoAuth), "no_auth, username_password or sigv4")
	cmd.Flags().StringVar(&f.req.Credentials.Username, "username", "", "Basic auth user")
	cmd.Flags().StringVar(&f.req.Credentials.Password, "password", "", "Basic auth password")
	cmd.Flags().StringVar(&f.req.Credentials.Region, "region", "", "SigV4 region")
	cmd.Flags().StringVar(&f.req.Credentials.Service, "service", "", "SigV4 service name (default es)")
	cmd.Flags().StringVar(&f.req.Credentials.AccessKeyID, "access-key", "", "SigV4 access key id")
	cmd.Flags().StringVar(&f.req.Credentials.SecretAccessKey, "secret-key", "", "SigV4 secret access key")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("endpoint")
}

func (f *dataSourceFlags) request() domain.CreateDataSourceRequest {
	req := f.req
	req.AuthType = domain.AuthType(f.authType)
	return req
}

func newDataSourcesCreateCmd(client *Client) *cobra.Command {
	flags := &dataSourceFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a data source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := client.CreateDataSource(cmd.Context(), flags.request())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), ds)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Data source %q created with id %s\n", ds.Title, ds.ID)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDataSourcesDeleteCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a data source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.DeleteDataSource(cmd.Context(), args[0]); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": args[0]})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Data source %s deleted\n", args[0])
			return nil
		},
	}
}

func newDataSourcesTestCmd(client *Client) *cobra.Command {
	flags := &dataSourceFlags{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check that a data source definition can connect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.TestDataSource(cmd.Context(), flags.request()); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"success": true})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Connection succeeded")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
