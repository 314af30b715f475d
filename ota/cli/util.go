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

package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dut3062796s/mongoose-os/util"
)

var OptBootCfgFilename string

func OtaUsage(cmd *cobra.Command, err error) {
	if err != nil {
		if ue, ok := err.(*util.UpdaterError); ok {
			log.Debugf("%s", ue.StackTrace)
			fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Text)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		}
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}
	os.Exit(1)
}

func addBootCfgFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&OptBootCfgFilename, "bootcfg", "b", "bootcfg.yml",
		"Path of the boot configuration record")
}
