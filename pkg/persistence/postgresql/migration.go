package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INT NOT NULL DEFAULT 1,
				config JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL,
				tags JSONB NOT NULL DEFAULT '[]',
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_definition_name_version UNIQUE (name, version)
			);

			CREATE INDEX idx_workflow_definitions_status ON workflow_definitions(status);
			CREATE INDEX idx_workflow_definitions_name ON workflow_definitions(name);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				engine_workflow_id VARCHAR(255),
				engine_run_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB,
				error_message TEXT,
				last_engine_seq BIGINT NOT NULL DEFAULT 0,
				created_by VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_execution_engine_workflow_id UNIQUE (engine_workflow_id)
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			CREATE TABLE step_executions (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL DEFAULT '',
				step_type VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				error_message TEXT,
				cost JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_step_execution_step_id UNIQUE (execution_id, step_id)
			);

			CREATE INDEX idx_step_executions_execution_id ON step_executions(execution_id);
			CREATE INDEX idx_step_executions_status ON step_executions(status);

			CREATE TABLE approval_requests (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				context JSONB,
				status VARCHAR(50) NOT NULL,
				token VARCHAR(255) NOT NULL,
				requested_by VARCHAR(255),
				resolved_by VARCHAR(255),
				response_note TEXT,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				responded_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_approval_token UNIQUE (token)
			);

			CREATE INDEX idx_approval_requests_execution_id ON approval_requests(execution_id);
			CREATE INDEX idx_approval_requests_status ON approval_requests(status);
			CREATE INDEX idx_approval_requests_expires_at ON approval_requests(expires_at);

			CREATE TABLE execution_logs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255),
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				metadata JSONB,
				sequence BIGINT NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_execution_log_sequence UNIQUE (execution_id, sequence)
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id);
			CREATE INDEX idx_execution_logs_level ON execution_logs(level);
		`,
	}
}
