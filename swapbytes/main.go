package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dyastin-0/swapbytes/cmd"
	"github.com/Dyastin-0/swapbytes/styles"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cmd.New().Run(ctx, os.Args)
	stop()

	if err != nil {
		fmt.Println(styles.ERROR.Render(err.Error()))
		os.Exit(1)
	}

	fmt.Println(styles.TITLE.Render("swapbytes out"))
}
