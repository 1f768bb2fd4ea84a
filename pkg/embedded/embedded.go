package embedded

import (
	_ "embed"
)

// Embed probe prompt data files
//
//go:embed data/probe/system_prompt.txt
var ProbeSystemPromptTxt []byte

//go:embed data/probe/user_prompt.txt
var ProbeUserPromptTxt []byte
