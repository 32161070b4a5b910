/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"os"
	"text/tabwriter"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "查看已保存的病人报告",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "按保存时间从新到旧列出所有报告",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()

		reports, err := store.ListAll()
		if err != nil {
			return err
		}
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(writer, "CODE\tNAME\tPREDICTION\tCONFIDENCE\tCREATED")
		for _, r := range reports {
			_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\t%.2f\t%s\n", r.PatientCode, r.PatientName, r.Prediction,
				r.Confidence, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return writer.Flush()
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show code",
	Short: "以json格式输出一份报告",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()

		r, err := store.GetByCode(args[0])
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("报告%s不存在", args[0])
		}
		marshal, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return errors.Wrap(err, "序列化报告出错")
		}
		fmt.Println(string(marshal))
		return nil
	},
}

var reportPdfCmd = &cobra.Command{
	Use:   "pdf code outputFile",
	Short: "将一份报告导出为PDF",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()

		r, err := store.GetByCode(args[0])
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("报告%s不存在", args[0])
		}

		fout, err := os.Create(args[1])
		if err != nil {
			return errors.Wrap(err, "创建输出文件错误")
		}
		if err = report.RenderPDF(fout, r); err != nil {
			_ = fout.Close()
			return err
		}
		return errors.Wrap(fout.Close(), "写入PDF出错")
	},
}

func openStore() (report.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return report.Open(cfg.Store)
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportPdfCmd)
}
