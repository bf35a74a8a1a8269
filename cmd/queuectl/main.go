// Command queuectl inspects and drives the offline mutation queue of a
// running engine through its local HTTP API.
//
//	queuectl [-addr URL] list
//	queuectl [-addr URL] retry <id>
//	queuectl [-addr URL] retry-all
//	queuectl [-addr URL] drop <id>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/auth"
	"github.com/kiwari-pos/engine/internal/config"
	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", "http://localhost:"+cfg.Port, "engine base URL")
	role := flag.String("role", enum.UserRoleManager, "role to act as")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: queuectl [flags] list|retry <id>|retry-all|drop <id>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, uuid.New(), "", *role)
	if err != nil {
		logrus.WithError(err).Fatal("mint token")
	}
	c := &client{base: *addr, token: token, http: &http.Client{Timeout: 30 * time.Second}}

	if err := run(c, flag.Args(), os.Stdout); err != nil {
		logrus.WithError(err).Fatal("queuectl")
	}
}

func run(c *client, args []string, out io.Writer) error {
	switch args[0] {
	case "list":
		var resp struct {
			Count     int              `json:"count"`
			Mutations []queue.Mutation `json:"mutations"`
		}
		if err := c.do(http.MethodGet, "/queue", &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tENTITY\tCREATED\tRETRIES\tLAST ERROR")
		for _, m := range resp.Mutations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				m.ID, m.Kind, m.EntityID, m.CreatedAt.Format(time.RFC3339), m.RetryCount, m.LastError)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d pending\n", resp.Count)
		return nil

	case "retry":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		var res queue.Result
		if err := c.do(http.MethodPost, "/queue/"+id.String()+"/retry", &res); err != nil {
			return err
		}
		printResult(out, res)
		return nil

	case "retry-all":
		var rep queue.Report
		if err := c.do(http.MethodPost, "/queue/retry", &rep); err != nil {
			return err
		}
		for _, res := range rep.Results {
			printResult(out, res)
		}
		fmt.Fprintf(out, "succeeded=%d failed=%d skipped=%d dropped=%d\n",
			rep.Succeeded, rep.Failed, rep.Skipped, rep.Dropped)
		return nil

	case "drop":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		if err := c.do(http.MethodDelete, "/queue/"+id.String(), nil); err != nil {
			return err
		}
		fmt.Fprintf(out, "dropped %s\n", id)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func idArg(args []string) (uuid.UUID, error) {
	if len(args) < 2 {
		return uuid.Nil, fmt.Errorf("%s: mutation id required", args[0])
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", args[0], err)
	}
	return id, nil
}

func printResult(out io.Writer, res queue.Result) {
	if res.Error != "" {
		fmt.Fprintf(out, "%s %s: %s\n", res.ID, res.Outcome, res.Error)
		return
	}
	fmt.Fprintf(out, "%s %s\n", res.ID, res.Outcome)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// do sends an empty-bodied request and decodes the answer into out.
// A dropped retry answers 409 with a result body, which is still decoded.
func (c *client) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode < 300, resp.StatusCode == http.StatusConflict && out != nil:
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
		return nil
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
}
