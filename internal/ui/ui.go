package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bz888/kubechat/internal/api/stream"
	"github.com/bz888/kubechat/internal/logger"
	"github.com/bz888/kubechat/internal/session"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const clusterModal = "clusterModal"

type View struct {
	app          *tview.Application
	pages        *tview.Pages
	mainFlex     *tview.Flex
	debugConsole *tview.TextView
	textView     *tview.TextView
	textArea     *tview.TextArea
	dev          bool
	debugShown   bool

	session     *session.Session
	clusters    []string
	localLogger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(dev bool) *View {
	v := &View{dev: dev}
	v.app = tview.NewApplication()
	v.app.EnablePaste(true)
	v.app.EnableMouse(true)

	v.debugConsole = v.initDebugConsole()
	v.textView = v.initChatViewer()
	v.textArea = initChatInput()
	return v
}

func (v *View) initChatViewer() *tview.TextView {
	textView := tview.NewTextView().
		SetChangedFunc(func() {
			v.app.Draw()
		}).
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	textView.SetTitle("Conversation").SetBorder(true)
	textView.SetScrollable(true)
	textView.ScrollToEnd()
	return textView
}

func initChatInput() *tview.TextArea {
	textArea := tview.NewTextArea()
	textArea.SetTitle("Question").SetBorder(true)
	return textArea
}

func (v *View) initDebugConsole() *tview.TextView {
	console := tview.NewTextView().
		SetChangedFunc(func() {
			v.app.Draw()
		}).
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	console.SetTitle("Debugger").SetBorder(true)
	console.ScrollToEnd()
	return console
}

// DebugConsole is the view the logger writes to in dev mode.
func (v *View) DebugConsole() *tview.TextView {
	return v.debugConsole
}

// Run blocks until the user quits.
func (v *View) Run(sess *session.Session, clusters []string) error {
	v.session = sess
	v.clusters = clusters
	v.localLogger = logger.NewLogger("views")

	v.textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEnter:
			v.app.SetFocus(v.textArea)
		}
		return event
	})

	subFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.textView, 0, 1, false).
		AddItem(v.textArea, 8, 2, true)
	v.mainFlex = tview.NewFlex().
		AddItem(subFlex, 0, 2, false)

	if v.dev {
		v.mainFlex.AddItem(v.debugConsole, 0, 1, false)
		v.debugShown = true
	}

	v.pages = tview.NewPages().AddPage("main", v.mainFlex, true, true)

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlX {
			v.cancelTurn()
			return nil
		}
		return event
	})
	v.setInputCapture()

	v.updateTitle()
	fmt.Fprint(v.textView, renderBot(
		"🤖 Welcome to kubechat! Pick a cluster with /clusters, then ask about Kubernetes or type a command. /help lists commands."))

	return v.app.SetRoot(v.pages, true).SetFocus(v.textArea).Run()
}

func (v *View) setInputCapture() {
	v.textArea.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyESC:
			if v.textView.GetText(false) != "" {
				v.app.SetFocus(v.textView)
			}
		case tcell.KeyEnter:
			content := strings.TrimSpace(v.textArea.GetText())
			if content == "" {
				return nil
			}
			v.textArea.SetText("", true)
			v.handleInput(content)
			return nil
		}
		return event
	})
}

func (v *View) handleInput(content string) {
	command, arg, _ := strings.Cut(content, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/help":
		fmt.Fprint(v.textView, renderHelp())
	case "/bye", "/quit", "/exit":
		v.quitApp()
	case "/debug":
		v.toggleDebugConsole()
	case "/history":
		fmt.Fprint(v.textView, renderHistory(v.session.History()))
	case "/clusters":
		v.showClusterModal()
	case "/cluster":
		v.selectCluster(arg)
	case "/yes", "/no":
		fmt.Fprint(v.textView, renderUser(content))
		yes := command == "/yes"
		v.runTurn(func(ctx context.Context, sink stream.Sink) error {
			return v.session.Confirm(ctx, yes, sink)
		})
	case "/regenerate":
		fmt.Fprint(v.textView, renderUser(content))
		v.runTurn(v.session.Regenerate)
	default:
		fmt.Fprint(v.textView, renderUser(content))
		v.runTurn(func(ctx context.Context, sink stream.Sink) error {
			return v.session.Send(ctx, content, sink)
		})
	}
}

// runTurn executes fn off the UI goroutine with the input disabled until it
// returns. Ctrl-X cancels it.
func (v *View) runTurn(fn func(ctx context.Context, sink stream.Sink) error) {
	ctx, cancel := context.WithCancel(context.Background())
	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()

	v.textArea.SetDisabled(true)
	fmt.Fprint(v.textView, typingIndicator)

	go func() {
		defer cancel()
		sink := newChatSink(v.app, v.textView, v.localLogger)
		err := fn(ctx, sink)

		v.mu.Lock()
		v.cancel = nil
		v.mu.Unlock()

		v.app.QueueUpdateDraw(func() {
			sink.clearTyping()
			switch {
			case errors.Is(err, session.ErrNoPending):
				fmt.Fprint(v.textView, renderBot("There is no command waiting for confirmation."))
			case errors.Is(err, session.ErrTurnInFlight):
				fmt.Fprint(v.textView, renderBot("Please wait for the current answer to finish."))
			case errors.Is(err, session.ErrEmptyQuery):
			}
			v.textArea.SetDisabled(false)
			v.app.SetFocus(v.textArea)
		})
	}()
}

func (v *View) cancelTurn() {
	v.mu.Lock()
	cancel := v.cancel
	v.mu.Unlock()
	if cancel != nil {
		v.localLogger.Info("Turn cancelled by user")
		cancel()
	}
}

func createModal(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

func (v *View) showClusterModal() {
	if len(v.clusters) == 0 {
		fmt.Fprint(v.textView, renderBot("No clusters are configured. Set CHATBOT_KUBECONFIG_PATH or use /cluster <name>."))
		return
	}

	closeModal := func() {
		v.pages.RemovePage(clusterModal)
		v.app.SetFocus(v.textArea)
	}

	list := tview.NewList()
	list.SetBorder(true).SetTitle("Clusters")
	current := v.session.Cluster()
	for i, cluster := range v.clusters {
		shortcut := rune(0)
		if i < 9 {
			shortcut = '1' + rune(i)
		}
		secondary := ""
		if cluster == current {
			secondary = "Current cluster"
		}
		list.AddItem(cluster, secondary, shortcut, func() {
			v.selectCluster(cluster)
			closeModal()
		})
	}
	list.AddItem("Back", "", 'q', closeModal)

	v.pages.AddPage(clusterModal, createModal(list, 40, 12), true, true)
	v.app.SetFocus(list)
}

func (v *View) selectCluster(name string) {
	if name == "" {
		fmt.Fprint(v.textView, renderBot(fmt.Sprintf("Current cluster: `%s`", v.session.Cluster())))
		return
	}
	if len(v.clusters) > 0 && !contains(v.clusters, name) {
		fmt.Fprint(v.textView, renderBot(fmt.Sprintf("Unknown cluster `%s`. Known clusters: %s", name, strings.Join(v.clusters, ", "))))
		return
	}
	v.session.SetCluster(name)
	v.localLogger.Info("Selected cluster: ", name)
	v.updateTitle()
	fmt.Fprint(v.textView, renderBot(fmt.Sprintf("Using cluster: `%s`", name)))
}

func (v *View) updateTitle() {
	v.textView.SetTitle(fmt.Sprintf("Conversation (cluster: %s)", v.session.Cluster()))
}

func (v *View) toggleDebugConsole() {
	if v.debugShown {
		v.mainFlex.RemoveItem(v.debugConsole)
		fmt.Fprintf(v.textView, "\nDebug console disabled\n")
	} else {
		v.mainFlex.AddItem(v.debugConsole, 0, 1, false)
		fmt.Fprintf(v.textView, "\nDebug console enabled\n")
	}
	v.debugShown = !v.debugShown
}

func (v *View) quitApp() {
	fmt.Fprintf(v.textView, "Bye bye\n")
	v.cancelTurn()
	v.app.Stop()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
