package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BashCompletion is the bash completion script for studio.
const BashCompletion = `#!/bin/bash
# Bash completion for the studio CLI

_studio_completion() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    local commands="login signup logout whoami dashboard requests submit invoices pay download inbox chat admin completion version help"
    local admin_cmds="users set-role set-status projects advance override assign invoices invoice-create invoice-send invoice-paid invoice-cancel analytics"
    local global_flags="--config"

    case "${prev}" in
        admin)
            COMPREPLY=( $(compgen -W "${admin_cmds}" -- ${cur}) )
            return 0
            ;;
        --config|-o)
            COMPREPLY=( $(compgen -f -- ${cur}) )
            return 0
            ;;
        -status|--status)
            COMPREPLY=( $(compgen -W "draft submitted in-progress completed delivered" -- ${cur}) )
            return 0
            ;;
        -role|--role)
            COMPREPLY=( $(compgen -W "user designer admin super-admin" -- ${cur}) )
            return 0
            ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            return 0
            ;;
    esac

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "${commands} ${global_flags}" -- ${cur}) )
    fi
    return 0
}

complete -F _studio_completion studio
`

// ZshCompletion is the zsh completion script for studio.
const ZshCompletion = `#compdef studio

_studio() {
    local -a commands
    commands=(
        'login:Sign in with email and password'
        'signup:Create an account'
        'logout:Sign out'
        'whoami:Show the signed-in user'
        'dashboard:Summarize your design requests'
        'requests:List your design requests'
        'submit:Submit a new design request'
        'invoices:List your invoices'
        'pay:Pay a sent invoice'
        'download:Download an invoice PDF'
        'inbox:List conversations'
        'chat:Open the conversation of a request'
        'admin:Back-office commands'
        'completion:Generate shell completion script'
        'version:Show version information'
        'help:Show help information'
    )

    local -a admin_cmds
    admin_cmds=(
        'users:List accounts'
        'set-role:Change the role of an account'
        'set-status:Activate, deactivate or suspend an account'
        'projects:List every design request'
        'advance:Move a request one step forward'
        'override:Set any request status'
        'assign:Assign a designer'
        'invoices:List every invoice'
        'invoice-create:Create a draft invoice'
        'invoice-send:Send a draft invoice'
        'invoice-paid:Mark an invoice paid'
        'invoice-cancel:Cancel an invoice'
        'analytics:Show portal totals'
    )

    _arguments -C \
        '--config[Configuration file path]:file:_files' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                admin)
                    _describe 'admin command' admin_cmds
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_studio "$@"
`

// FishCompletion is the fish completion script for studio.
const FishCompletion = `# Fish completion for the studio CLI

complete -c studio -f -n "__fish_use_subcommand" -a "login" -d "Sign in"
complete -c studio -f -n "__fish_use_subcommand" -a "signup" -d "Create an account"
complete -c studio -f -n "__fish_use_subcommand" -a "logout" -d "Sign out"
complete -c studio -f -n "__fish_use_subcommand" -a "whoami" -d "Show the signed-in user"
complete -c studio -f -n "__fish_use_subcommand" -a "dashboard" -d "Summarize your design requests"
complete -c studio -f -n "__fish_use_subcommand" -a "requests" -d "List your design requests"
complete -c studio -f -n "__fish_use_subcommand" -a "submit" -d "Submit a design request"
complete -c studio -f -n "__fish_use_subcommand" -a "invoices" -d "List your invoices"
complete -c studio -f -n "__fish_use_subcommand" -a "pay" -d "Pay a sent invoice"
complete -c studio -f -n "__fish_use_subcommand" -a "download" -d "Download an invoice PDF"
complete -c studio -f -n "__fish_use_subcommand" -a "inbox" -d "List conversations"
complete -c studio -f -n "__fish_use_subcommand" -a "chat" -d "Open a conversation"
complete -c studio -f -n "__fish_use_subcommand" -a "admin" -d "Back-office commands"
complete -c studio -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion"

complete -c studio -f -n "__fish_seen_subcommand_from admin" -a "users set-role set-status projects advance override assign invoices invoice-create invoice-send invoice-paid invoice-cancel analytics"
complete -c studio -f -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"

complete -c studio -l config -r -d "Configuration file path"
`

func script(shell string) (string, error) {
	switch shell {
	case "bash":
		return BashCompletion, nil
	case "zsh":
		return ZshCompletion, nil
	case "fish":
		return FishCompletion, nil
	default:
		return "", fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
	}
}

// GenerateCompletion writes the completion script for shell to w.
func GenerateCompletion(w io.Writer, shell string) error {
	s, err := script(shell)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}

// CompletionPath returns where InstallCompletion puts the script for shell.
func CompletionPath(home, shell string) (string, error) {
	switch shell {
	case "bash":
		return filepath.Join(home, ".bash_completion.d", "studio"), nil
	case "zsh":
		return filepath.Join(home, ".zsh", "completion", "_studio"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", "studio.fish"), nil
	default:
		return "", fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
	}
}

// InstallCompletion writes the completion script under home and returns
// its path.
func InstallCompletion(home, shell string) (string, error) {
	s, err := script(shell)
	if err != nil {
		return "", err
	}
	path, err := CompletionPath(home, shell)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
		return "", fmt.Errorf("failed to write completion script: %w", err)
	}
	return path, nil
}
