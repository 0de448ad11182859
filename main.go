package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Meander-Cloud/go-cluster/appdata"
	"github.com/Meander-Cloud/go-cluster/cluster"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/packet"
	"github.com/Meander-Cloud/go-cluster/swaplock"
)

// FileConfig is the layout of the node configuration file.
type FileConfig struct {
	Cluster  config.Config     `mapstructure:"cluster"`
	Elements []*config.Element `mapstructure:"elements"`
}

// DemoState is replicated from the master to every slave once per frame.
type DemoState struct {
	Frame  uint64 `msgpack:"frame"`
	Master string `msgpack:"master"`
}

var demoStateGUID = packet.MustParseGUID("8d3f2a61-5b7c-4e09-a1d4-c6e8f0b2793a")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cluster-node",
	Short: "Run one node of a frame synchronized cluster",
	Example: "cluster-node --config head.yaml\n" +
		"cluster-node --config render.yaml --host render-1 --metrics-addr :9102",
	RunE: func(cmd *cobra.Command, args []string) error {
		fc, err := loadConfig()
		if err != nil {
			return err
		}
		return run(fc)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "node configuration file (yaml, json or toml)")
	rootCmd.Flags().String("host", "", "local hostname used for role selection, defaults to the OS hostname")
	rootCmd.Flags().Duration("frame-interval", time.Millisecond*16, "pause between frames")
	rootCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.Flags().Bool("debug", false, "enable debug logging")

	viper.BindPFlag("cluster.host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("cluster.logdebug", rootCmd.Flags().Lookup("debug"))
	viper.BindPFlag("frame_interval", rootCmd.Flags().Lookup("frame-interval"))
	viper.BindPFlag("metrics_addr", rootCmd.Flags().Lookup("metrics-addr"))

	viper.SetEnvPrefix("cluster")
	viper.AutomaticEnv()

	viper.SetDefault("cluster.logprefix", "cluster")
}

func loadConfig() (*FileConfig, error) {
	if cfgFile == "" {
		return nil, errors.New("--config is required")
	}

	viper.SetConfigFile(cfgFile)
	err := viper.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfgFile, err)
	}

	fc := &FileConfig{}
	err = viper.Unmarshal(fc)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", cfgFile, err)
	}

	log.Printf("%s: loaded %s with %d elements", fc.Cluster.LogPrefix, viper.ConfigFileUsed(), len(fc.Elements))
	return fc, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logPrefix string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("%s: metrics server exited, err=%s", logPrefix, err.Error())
		}
	}()

	log.Printf("%s: serving metrics on %s", logPrefix, addr)
	return srv
}

func run(fc *FileConfig) error {
	c := &fc.Cluster

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := cluster.NewManager(c, reg)
	if err != nil {
		return err
	}
	defer m.Shutdown() // wait

	swapLock := swaplock.New(m)
	err = m.AddPlugin(swapLock)
	if err != nil {
		return err
	}

	appData := appdata.NewManager(m)
	err = m.AddPlugin(appData)
	if err != nil {
		return err
	}

	state := appdata.NewMsgpackData(DemoState{})
	err = appData.Register(demoStateGUID, state)
	if err != nil {
		return err
	}

	failed := m.ConfigureAll(fc.Elements)
	for _, e := range failed {
		log.Printf("%s: element %s<%s> not configured", c.LogPrefix, e.Name, e.Type)
	}

	metricsAddr := viper.GetString("metrics_addr")
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg, c.LogPrefix)
		defer srv.Close()
	}

	stopch := make(chan struct{})
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderLoop(m, state, viper.GetDuration("frame_interval"), stopch)
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch // wait
	log.Printf("%s: received signal %s, exiting", c.LogPrefix, sig.String())

	close(stopch)
	wg.Wait()
	return nil
}

// renderLoop stands in for the application's draw loop.
// invoked on render goroutine
func renderLoop(m *cluster.Manager, state *appdata.MsgpackData[DemoState], interval time.Duration, stopch <-chan struct{}) {
	logPrefix := m.Config().LogPrefix
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-stopch:
			return
		case <-ticker.C:
		}

		m.PreDraw()

		if m.IsMaster() {
			state.Value.Frame++
			state.Value.Master = logPrefix
		}

		synced := m.CreateBarrier()
		m.PostPostFrame()

		if state.Value.Frame/100 != last/100 {
			log.Printf(
				"%s: frame=%d, master=%s, synced=%t, ready=%t, peers=%d",
				logPrefix,
				state.Value.Frame,
				state.Value.Master,
				synced,
				m.IsClusterReady(),
				len(m.Peers()),
			)
		}
		last = state.Value.Frame
	}
}

func main() {
	// enable microsecond and file line logging
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
