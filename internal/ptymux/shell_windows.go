//go:build windows

package ptymux

// candidateShells on Windows falls back to PowerShell, then cmd.exe.
var candidateShells = []string{"powershell.exe", "cmd.exe"}
