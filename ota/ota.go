//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dut3062796s/mongoose-os/ota/cli"
	"github.com/dut3062796s/mongoose-os/util"
)

var otaVersion = "0.1.0"

func main() {
	otaHelpText := "ota applies firmware update bundles to a flash image " +
		"and manages the boot configuration's commit/revert cycle."

	logLevelStr := ""
	otaCmd := &cobra.Command{
		Use:   "ota",
		Short: "ota is a host-mode tool for dual-slot firmware updates",
		Long:  otaHelpText,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel, err := log.ParseLevel(logLevelStr)
			if err != nil {
				cli.OtaUsage(nil, util.ChildUpdaterError(err))
			}

			if err := util.Init(logLevel, "",
				util.VERBOSITY_DEFAULT); err != nil {

				cli.OtaUsage(nil, err)
			}
		},

		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	otaCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l",
		"WARN", "Log level")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the ota version number",
		Example: "  ota version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s\n", otaVersion)
		},
	}
	otaCmd.AddCommand(versCmd)

	cli.AddUpdateCommands(otaCmd)
	cli.AddBootCommands(otaCmd)

	otaCmd.Execute()
}
