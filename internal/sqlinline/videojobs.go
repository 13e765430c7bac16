package sqlinline

const QInsertVideoJob = `--sql 3c1f6a0e-92b4-4d2a-bb1f-0e5a7c2d9f41
insert into video_jobs (
    id, shop_domain, product_id, operation_ref, status, prompt,
    media_url, media_id, error_message, published, storage_purged,
    created_at, updated_at
)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text,
        '', '', '', false, false, now(), now());
`

const QSelectVideoJob = `--sql 5b9d2e17-46c8-4f0a-9d3b-8a1c6e4f2d70
select
    id, shop_domain, product_id, operation_ref, status, prompt,
    media_url, media_id, error_message, published, expires_at,
    created_at, updated_at
from video_jobs
where id = $1::uuid
limit 1;
`

const QMarkVideoJobFailed = `--sql 9e4a7c21-d0b5-48f3-a6e2-1f8d3b5c7a90
update video_jobs
set status = 'failed',
    error_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status in ('pending', 'processing');
`

const QMarkVideoJobCompleted = `--sql 1d8f3b52-7e94-4c06-b1a8-6c2e9d4f0a73
update video_jobs
set status = 'completed',
    media_url = $2::text,
    expires_at = $3::timestamptz,
    published = false,
    storage_purged = false,
    media_id = '',
    error_message = '',
    updated_at = now()
where id = $1::uuid
  and status in ('pending', 'processing');
`

const QMarkVideoJobPublished = `--sql 7a2c5e90-3f16-4b8d-9c4a-d5e1f8b06273
update video_jobs
set published = true,
    media_id = $2::text,
    media_url = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'completed'
  and published = false;
`

const QClaimActiveVideoJob = `--sql b6e19d34-8a05-47cf-b2d7-4f9c0e6a1852
with next_job as (
    select id
    from video_jobs
    where status in ('pending', 'processing')
    order by updated_at asc
    limit 1
    for update skip locked
)
update video_jobs
set status = 'processing',
    updated_at = now()
from next_job
where video_jobs.id = next_job.id
returning video_jobs.id;
`

const QListExpiredStorageJobs = `--sql e0c4f8a6-52d1-4e93-8b07-3a6d9f2c5b14
select id
from video_jobs
where expires_at is not null
  and expires_at <= now()
  and storage_purged = false
limit 100;
`

const QMarkVideoJobStoragePurged = `--sql 4f7b0d28-c693-4a51-be08-9d2e5a1c8f36
update video_jobs
set storage_purged = true,
    updated_at = now()
where id = $1::uuid;
`
