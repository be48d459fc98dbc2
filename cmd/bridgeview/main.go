package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/app"
	"github.com/omnisdk/native-bridge/database"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/native/fake"
	"github.com/omnisdk/native-bridge/storage"
)

func main() {
	var (
		appName     = flag.String("app", "default", "App name")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*appName); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runDemo(*appName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runDemo exercises the bridge against the in-memory backend and prints
// each step, the non-interactive counterpart of the TUI.
func runDemo(appName string) error {
	be := fake.New()
	a, err := app.New(app.Config{Name: appName}, be)
	if err != nil {
		return err
	}
	defer a.Dispose()

	fmt.Printf("App: %s\n", a.Name())

	st, err := storage.GetInstance(a, "gs://demo-bucket")
	if err != nil {
		return err
	}
	put, err := st.Reference("greetings/hello.txt").PutBytes([]byte("hello from the bridge"))
	if err != nil {
		return err
	}
	size, err := await(a, put.Task())
	if err != nil {
		return err
	}
	fmt.Printf("Stored %d bytes at greetings/hello.txt\n", size)

	get, err := st.Reference("greetings/hello.txt").GetBytes(1 << 20)
	if err != nil {
		return err
	}
	data, err := await(a, get.Task())
	if err != nil {
		return err
	}
	fmt.Printf("Fetched: %q\n", data)

	db, err := database.GetInstance(a, "https://demo.example.dev")
	if err != nil {
		return err
	}
	ref := db.Ref("counters/visits")

	events := 0
	reg, err := ref.OnValue(func(e *nativebridge.Event) error {
		events++
		fmt.Printf("Event %d: %s = %v\n", events, e.Path, e.Value)
		return nil
	})
	if err != nil {
		return err
	}
	defer reg.Unregister()

	set, err := ref.SetValue(int64(1))
	if err != nil {
		return err
	}
	if _, err := await(a, set); err != nil {
		return err
	}

	tx, err := ref.RunTransaction(func(current any, attempt int32) (any, bool) {
		n, _ := current.(int64)
		return n + 1, false
	})
	if err != nil {
		return err
	}
	committed, err := await(a, tx)
	if err != nil {
		return err
	}
	fmt.Printf("Transaction committed: %v\n", committed)

	// Let the commit's value event land.
	for i := 0; events < 2 && i < 200; i++ {
		a.Dispatcher().Drain()
		time.Sleep(time.Millisecond)
	}
	fmt.Printf("Live native instances: %d\n", be.LiveInstances())
	return nil
}

// await drains the app's dispatcher until the task resolves.
func await[T any](a *app.App, task *dispatch.Task[T]) (T, error) {
	for !task.Done() {
		a.Dispatcher().Drain()
		time.Sleep(time.Millisecond)
	}
	a.Dispatcher().Drain()
	return task.Result()
}
