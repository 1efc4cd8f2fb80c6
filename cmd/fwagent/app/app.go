package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/fwagent/cmd/fwagent/app/options"
	"github.com/autopeer-io/fwagent/pkg/app"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	commandName = "fwagent"
	commandDesc = `The fwagent runs on a device, receives commands over MQTT and replaces
its own firmware image in place. A "fwupdate" command downloads an image,
writes it to the inactive slot, selects it for the next boot and restarts.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the firmware update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(),
		app.WithSubCommands(newPartitionsCommand(), newInspectCommand()),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()
		// k8s.io 依赖通过 klog 输出，统一接到 zap 上。
		klog.SetLogger(log.Logr().WithName("klog"))

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
