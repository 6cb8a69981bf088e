package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/golaco/internal/tui/keys"
	"github.com/matheus3301/golaco/internal/tui/model"
	"github.com/matheus3301/golaco/internal/tui/ui"
	"github.com/matheus3301/golaco/internal/tui/views"
	"github.com/rivo/tview"
)

// Daemon is the API surface the monitor uses; *api.Client satisfies it.
type Daemon interface {
	model.Caller
	Watch(ctx context.Context, prefix string, fn func(evt map[string]any)) error
}

const (
	mainView     = "main"
	callTimeout  = 5 * time.Second
	rewatchDelay = 2 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	daemon   Daemon
	vm       *model.ViewModel
	registry *keys.Registry
	theme    *ui.Theme

	header     *ui.SessionInfo
	menu       *ui.Menu
	online     *views.OnlineList
	typingLine *views.TypingLine
	flash      *ui.FlashBar
	statusBar  *views.StatusBar
	prompt     *ui.Prompt

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the monitor for the named session.
func NewApp(d Daemon, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:        tview.NewApplication(),
		daemon:     d,
		vm:         model.NewViewModel(d, sessionName),
		registry:   keys.NewRegistry(),
		theme:      theme,
		header:     ui.NewSessionInfo(theme),
		menu:       ui.NewMenu(theme),
		online:     views.NewOnlineList(theme),
		typingLine: views.NewTypingLine(theme),
		flash:      ui.NewFlashBar(theme),
		statusBar:  views.NewStatusBar(theme),
		prompt:     ui.NewPrompt(theme),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.setupBindings()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal("sync", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "sync now", Visible: true,
		Handler: func() { a.do(a.vm.SyncNow) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "command", Visible: true,
		Handler: a.showPrompt,
	})
	a.registry.AddGlobal("reload", &keys.Action{
		Key: tcell.KeyCtrlR, Label: "ctrl-r",
		Description: "reload", Visible: true,
		Handler: func() { a.do(a.vm.Load) },
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.header, 0, 1, false).
		AddItem(a.menu, 0, 1, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 5, 0, false).
		AddItem(a.online, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.typingLine, 1, 0, false).
		AddItem(a.flash, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.menu.Update(a.registry.Hints(mainView))

	a.prompt.SetOnSubmit(func(text string) {
		a.hidePrompt()
		cmd := ParseCommand(text)
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
			defer cancel()
			err := Execute(ctx, a.vm, cmd)
			if errors.Is(err, ErrQuit) {
				a.Stop()
				return
			}
			if err != nil {
				a.vm.Flash.Err(err)
			}
			a.app.QueueUpdateDraw(a.render)
		}()
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.prompt.HasFocus() {
			return event
		}
		if a.registry.HandleEvent(mainView, event) {
			return nil
		}
		return event
	})
}

func (a *App) showPrompt() {
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.online)
}

// do runs fn off the UI goroutine and flashes its error.
func (a *App) do(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.vm.Flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) render() {
	s := a.vm.Snapshot()
	a.header.Update(s)
	a.online.Update(s.OnlineUsers)
	a.typingLine.Update(s.Conversation, s.Typing)
	a.flash.Update(a.vm.Flash.Current())
	a.statusBar.Update(s)
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.render()
	go a.watchLoop()
	go a.refreshLoop()
	return a.app.Run()
}

// watchLoop loads a fresh snapshot and follows the event stream,
// starting over whenever the stream drops.
func (a *App) watchLoop() {
	for {
		loadCtx, cancel := context.WithTimeout(a.ctx, callTimeout)
		err := a.vm.Load(loadCtx)
		cancel()
		if err == nil {
			err = a.daemon.Watch(a.ctx, "", func(evt map[string]any) {
				a.vm.Apply(evt)
			})
		}
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.vm.Flash.Err(fmt.Errorf("daemon: %w", err))
		}
		a.app.QueueUpdateDraw(a.render)

		select {
		case <-time.After(rewatchDelay):
		case <-a.ctx.Done():
			return
		}
	}
}

// refreshLoop redraws on state changes and once a second so the clock
// and expired flashes update.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
